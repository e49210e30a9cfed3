package crypto

import (
	"bytes"
	"encoding/binary"
	"io"
	"math/big"

	"github.com/paychan/channelcore/core/types"
)

// The helpers in this file mirror the field-order discipline of
// types.writeElement but stay local to this package: HashUpdate and
// TransferID need to fold in a handful of fields (a Balance, a nonce)
// that are not otherwise exposed across the package boundary, and
// duplicating the tiny big-endian/length-prefix primitives here is
// simpler than widening types' exported surface for two call sites.

func writeBigIntForHash(w io.Writer, v *big.Int) error {
	if v == nil {
		v = big.NewInt(0)
	}
	b := v.Bytes()
	if err := binary.Write(w, binary.BigEndian, uint32(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

func writeBalanceForHash(w io.Writer, bal types.Balance) error {
	if err := writeBigIntForHash(w, bal.Amount[0]); err != nil {
		return err
	}
	if err := writeBigIntForHash(w, bal.Amount[1]); err != nil {
		return err
	}
	if _, err := w.Write(bal.To[0][:]); err != nil {
		return err
	}
	_, err := w.Write(bal.To[1][:])
	return err
}

func writeAddressAndNonce(w io.Writer, addr types.Address, nonce uint64) error {
	if _, err := w.Write(addr[:]); err != nil {
		return err
	}
	return binary.Write(w, binary.BigEndian, nonce)
}

func writeLengthPrefixed(w io.Writer, b []byte) error {
	if err := binary.Write(w, binary.BigEndian, uint32(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

func writeElementsForTransferID(w io.Writer, d *types.CreateDetails) error {
	var buf bytes.Buffer
	if _, err := buf.Write(d.TransferDefinition[:]); err != nil {
		return err
	}
	if err := binary.Write(&buf, binary.BigEndian, d.TransferTimeout); err != nil {
		return err
	}
	if _, err := buf.Write(d.InitialStateHash[:]); err != nil {
		return err
	}
	if err := writeLengthPrefixed(&buf, d.EncodedState); err != nil {
		return err
	}
	if err := writeLengthPrefixed(&buf, d.Meta); err != nil {
		return err
	}
	if err := writeBalanceForHash(&buf, d.Balance); err != nil {
		return err
	}
	_, err := w.Write(buf.Bytes())
	return err
}

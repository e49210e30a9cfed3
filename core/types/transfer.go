package types

import "io"

// CoreTransferState is the Merkle-set member described in §3: the
// onchain-relevant commitment to one active conditional transfer.
type CoreTransferState struct {
	TransferID         Hash
	ChannelAddress     Address
	TransferDefinition Address
	Initiator          Address
	Responder          Address
	AssetID            Address
	Balance            Balance
	TransferTimeout    uint64
	InitialStateHash   Hash
}

// Encode writes the canonical encoding hashed by core/crypto.HashTransferState
// and used as a Merkle leaf input.
func (t *CoreTransferState) Encode(w io.Writer) error {
	if err := writeElements(w,
		t.TransferID, t.ChannelAddress, t.TransferDefinition,
		t.Initiator, t.Responder, t.AssetID,
	); err != nil {
		return err
	}
	if err := writeBalance(w, t.Balance); err != nil {
		return err
	}
	return writeElements(w, t.TransferTimeout, t.InitialStateHash)
}

// Decode is the inverse of Encode.
func (t *CoreTransferState) Decode(r io.Reader) error {
	if err := readElements(r,
		&t.TransferID, &t.ChannelAddress, &t.TransferDefinition,
		&t.Initiator, &t.Responder, &t.AssetID,
	); err != nil {
		return err
	}
	bal, err := readBalance(r)
	if err != nil {
		return err
	}
	t.Balance = bal
	return readElements(r, &t.TransferTimeout, &t.InitialStateHash)
}

// Clone deep-copies t.
func (t *CoreTransferState) Clone() *CoreTransferState {
	if t == nil {
		return nil
	}
	cp := *t
	cp.Balance = t.Balance.Clone()
	return &cp
}

// FullTransferState adds the offchain bookkeeping described in §3 on top
// of the onchain-relevant CoreTransferState.
type FullTransferState struct {
	CoreTransferState

	TransferState    []byte
	TransferResolver []byte
	TransferEncoding string
	ResolverEncoding string

	InDispute bool
}

// Encode writes the complete storage-grade encoding of f: the core
// commitment plus the offchain state/resolver payloads and their
// encoding tags.
func (f *FullTransferState) Encode(w io.Writer) error {
	if err := f.CoreTransferState.Encode(w); err != nil {
		return err
	}
	return writeElements(w,
		f.TransferState, f.TransferResolver,
		f.TransferEncoding, f.ResolverEncoding,
		f.InDispute,
	)
}

// Decode is the inverse of Encode.
func (f *FullTransferState) Decode(r io.Reader) error {
	if err := f.CoreTransferState.Decode(r); err != nil {
		return err
	}
	return readElements(r,
		&f.TransferState, &f.TransferResolver,
		&f.TransferEncoding, &f.ResolverEncoding,
		&f.InDispute,
	)
}

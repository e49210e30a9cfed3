package types

import (
	"encoding/binary"
	"io"
	"math/big"

	"github.com/google/uuid"
)

// byteOrder is the integer encoding used across every canonical struct in
// this package. Big-endian is the teacher's choice (channeldb/db.go:
// "Big endian is the preferred byte order, due to cursor scans over
// integer keys iterating in order") and, more importantly for this spec,
// gives every field a single unambiguous width so two participants never
// decode the same bytes into different values.
var byteOrder = binary.BigEndian

// writeElement writes a single field in its canonical width. The
// canonical structs pass their fields, in order, to writeElements (or to
// writeElement for a single field), so the field order is visible at the
// call site and reviewable against the spec.
func writeElement(w io.Writer, element interface{}) error {
	switch e := element.(type) {
	case uint8:
		return binary.Write(w, byteOrder, e)
	case uint64:
		return binary.Write(w, byteOrder, e)
	case Address:
		_, err := w.Write(e[:])
		return err
	case Hash:
		_, err := w.Write(e[:])
		return err
	case []byte:
		if err := writeElement(w, uint32(len(e))); err != nil {
			return err
		}
		_, err := w.Write(e)
		return err
	case uint32:
		return binary.Write(w, byteOrder, e)
	case *big.Int:
		return writeBigInt(w, e)
	case uuid.UUID:
		_, err := w.Write(e[:])
		return err
	case bool:
		var b uint8
		if e {
			b = 1
		}
		return binary.Write(w, byteOrder, b)
	case string:
		return writeElement(w, []byte(e))
	default:
		return errUnsupportedElement
	}
}

func readElement(r io.Reader, element interface{}) error {
	switch e := element.(type) {
	case *uint8:
		return binary.Read(r, byteOrder, e)
	case *uint64:
		return binary.Read(r, byteOrder, e)
	case *Address:
		_, err := io.ReadFull(r, e[:])
		return err
	case *Hash:
		_, err := io.ReadFull(r, e[:])
		return err
	case *[]byte:
		var length uint32
		if err := readElement(r, &length); err != nil {
			return err
		}
		buf := make([]byte, length)
		if _, err := io.ReadFull(r, buf); err != nil {
			return err
		}
		*e = buf
		return nil
	case *uint32:
		return binary.Read(r, byteOrder, e)
	case **big.Int:
		v, err := readBigInt(r)
		if err != nil {
			return err
		}
		*e = v
		return nil
	case *uuid.UUID:
		_, err := io.ReadFull(r, e[:])
		return err
	case *bool:
		var b uint8
		if err := binary.Read(r, byteOrder, &b); err != nil {
			return err
		}
		*e = b != 0
		return nil
	case *string:
		var raw []byte
		if err := readElement(r, &raw); err != nil {
			return err
		}
		*e = string(raw)
		return nil
	default:
		return errUnsupportedElement
	}
}

// writeBigInt encodes a big.Int as a length-prefixed big-endian magnitude.
// Amounts are never negative in this protocol (balances are validated
// non-negative, Invariant 3), so the sign bit is not encoded.
func writeBigInt(w io.Writer, v *big.Int) error {
	if v == nil {
		v = big.NewInt(0)
	}
	return writeElement(w, v.Bytes())
}

func readBigInt(r io.Reader) (*big.Int, error) {
	var raw []byte
	if err := readElement(r, &raw); err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(raw), nil
}

var errUnsupportedElement = errUnsupported{}

type errUnsupported struct{}

func (errUnsupported) Error() string { return "types: unsupported canonical element type" }

// writeElements writes each element in order, stopping at the first
// error. Mirrors lnwire's writeElements helper.
func writeElements(w io.Writer, elements ...interface{}) error {
	for _, el := range elements {
		if err := writeElement(w, el); err != nil {
			return err
		}
	}
	return nil
}

// readElements reads each element in order, stopping at the first error.
func readElements(r io.Reader, elements ...interface{}) error {
	for _, el := range elements {
		if err := readElement(r, el); err != nil {
			return err
		}
	}
	return nil
}

func writeBalance(w io.Writer, b Balance) error {
	return writeElements(w,
		b.Amount[0], b.Amount[1],
		b.To[0], b.To[1],
	)
}

func readBalance(r io.Reader) (Balance, error) {
	var b Balance
	if err := readElements(r,
		&b.Amount[0], &b.Amount[1],
		&b.To[0], &b.To[1],
	); err != nil {
		return Balance{}, err
	}
	return b, nil
}

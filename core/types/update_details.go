package types

import (
	"bytes"
	"fmt"
	"io"
)

// UpdateType tags a ChannelUpdate's Details payload. Dispatch on this
// value replaces the dynamic, untyped payload the protocol was
// distilled from (§9, "Dynamic, untyped update payloads").
type UpdateType uint8

const (
	// UpdateSetup installs a new channel at nonce 1.
	UpdateSetup UpdateType = iota

	// UpdateDeposit reconciles onchain deposits into the channel
	// balance.
	UpdateDeposit

	// UpdateCreate installs a new conditional transfer.
	UpdateCreate

	// UpdateResolve closes an existing conditional transfer.
	UpdateResolve
)

func (t UpdateType) String() string {
	switch t {
	case UpdateSetup:
		return "setup"
	case UpdateDeposit:
		return "deposit"
	case UpdateCreate:
		return "create"
	case UpdateResolve:
		return "resolve"
	default:
		return fmt.Sprintf("UpdateType(%d)", uint8(t))
	}
}

// UpdateDetails is the tagged-union payload of a ChannelUpdate. Each
// variant below implements it; Validator and Applier type-switch on the
// concrete type (equivalently, dispatch on Type()) rather than on a
// stringly-typed discriminant.
type UpdateDetails interface {
	Type() UpdateType
	Encode(w io.Writer) error
	Decode(r io.Reader) error
}

// SetupDetails carries the parameters fixed for the channel's entire
// lifetime: the counterparties (in Alice/Bob order), the dispute window,
// and the network context the channel was deployed under.
type SetupDetails struct {
	Alice           Address
	Bob             Address
	AliceIdentifier Address
	BobIdentifier   Address
	Timeout         uint64
	ChainID         uint64
	ChannelFactory  Address
}

func (s *SetupDetails) Type() UpdateType { return UpdateSetup }

func (s *SetupDetails) Encode(w io.Writer) error {
	return writeElements(w,
		s.Alice, s.Bob, s.AliceIdentifier, s.BobIdentifier,
		s.Timeout, s.ChainID, s.ChannelFactory,
	)
}

func (s *SetupDetails) Decode(r io.Reader) error {
	return readElements(r,
		&s.Alice, &s.Bob, &s.AliceIdentifier, &s.BobIdentifier,
		&s.Timeout, &s.ChainID, &s.ChannelFactory,
	)
}

// DepositDetails carries no fields of its own: the asset being
// reconciled is already ChannelUpdate.AssetID, and the reconciled amount
// comes from the ChainReader at apply time (§4.3 "deposit").
type DepositDetails struct{}

func (d *DepositDetails) Type() UpdateType        { return UpdateDeposit }
func (d *DepositDetails) Encode(w io.Writer) error { return nil }
func (d *DepositDetails) Decode(r io.Reader) error { return nil }

// CreateDetails installs a new conditional transfer. TransferID must be
// deterministic from (channelAddress, channelNonce, these fields); see
// core/crypto.TransferID.
type CreateDetails struct {
	TransferID         Hash
	TransferDefinition Address
	TransferTimeout    uint64
	InitialStateHash   Hash
	EncodedState       []byte
	Meta               []byte

	// Balance is the transfer's own locked balance: the amount debited
	// from the creator's channel balance, split across Balance.To
	// (initiator/responder) for when the transfer is later resolved.
	Balance Balance
}

func (c *CreateDetails) Type() UpdateType { return UpdateCreate }

func (c *CreateDetails) Encode(w io.Writer) error {
	if err := writeElements(w,
		c.TransferID, c.TransferDefinition, c.TransferTimeout,
		c.InitialStateHash, c.EncodedState, c.Meta,
	); err != nil {
		return err
	}
	return writeBalance(w, c.Balance)
}

func (c *CreateDetails) Decode(r io.Reader) error {
	if err := readElements(r,
		&c.TransferID, &c.TransferDefinition, &c.TransferTimeout,
		&c.InitialStateHash, &c.EncodedState, &c.Meta,
	); err != nil {
		return err
	}
	bal, err := readBalance(r)
	if err != nil {
		return err
	}
	c.Balance = bal
	return nil
}

// ResolveDetails closes an existing conditional transfer by supplying the
// resolver payload (e.g. a hashlock pre-image) that the transfer
// definition's semantics consume to compute a payout.
type ResolveDetails struct {
	TransferID       Hash
	TransferResolver []byte
	Meta             []byte
}

func (res *ResolveDetails) Type() UpdateType { return UpdateResolve }

func (res *ResolveDetails) Encode(w io.Writer) error {
	return writeElements(w, res.TransferID, res.TransferResolver, res.Meta)
}

func (res *ResolveDetails) Decode(r io.Reader) error {
	return readElements(r, &res.TransferID, &res.TransferResolver, &res.Meta)
}

// NewDetails allocates the zero-value Details variant for t, ready for
// Decode. Any decoding ambiguity — an unrecognized type tag — is a fatal
// protocol error per §4.1, surfaced as a non-nil error here rather than
// silently defaulting to a variant.
func NewDetails(t UpdateType) (UpdateDetails, error) {
	switch t {
	case UpdateSetup:
		return &SetupDetails{}, nil
	case UpdateDeposit:
		return &DepositDetails{}, nil
	case UpdateCreate:
		return &CreateDetails{}, nil
	case UpdateResolve:
		return &ResolveDetails{}, nil
	default:
		return nil, fmt.Errorf("types: unrecognized update type %d", uint8(t))
	}
}

// EncodeDetails writes a type tag followed by the variant's own encoding,
// so a decoder that has not yet seen the type byte can still dispatch.
func EncodeDetails(w io.Writer, d UpdateDetails) error {
	if err := writeElement(w, uint8(d.Type())); err != nil {
		return err
	}
	return d.Encode(w)
}

// DecodeDetails reads a type tag and decodes the matching variant.
func DecodeDetails(r io.Reader) (UpdateDetails, error) {
	var tag uint8
	if err := readElement(r, &tag); err != nil {
		return nil, err
	}
	d, err := NewDetails(UpdateType(tag))
	if err != nil {
		return nil, err
	}
	if err := d.Decode(r); err != nil {
		return nil, err
	}
	return d, nil
}

// EncodedDetailsBytes is a small helper used by core/crypto to fold a
// Details payload into a canonical hash without exposing the bytes.Buffer
// plumbing to callers.
func EncodedDetailsBytes(d UpdateDetails) ([]byte, error) {
	var buf bytes.Buffer
	if err := EncodeDetails(&buf, d); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

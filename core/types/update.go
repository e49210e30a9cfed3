package types

import (
	"io"

	"github.com/google/uuid"
)

// UpdateID is the idempotency key described in §3 and §4.5.3: the
// initiator signs UUID so a counterparty that re-derives "the same"
// operation during sync can recognize it by UUID instead of re-executing
// it, and the Signature stops anyone else from forging an alternative
// update under the same UUID.
type UpdateID struct {
	UUID      uuid.UUID
	Signature []byte
}

func (id UpdateID) Encode(w io.Writer) error {
	return writeElements(w, id.UUID, id.Signature)
}

func (id *UpdateID) Decode(r io.Reader) error {
	return readElements(r, &id.UUID, &id.Signature)
}

// NewUpdateID allocates a fresh UUID with no signature; the caller signs
// it once the rest of the update is known (core/crypto.SignUpdateID).
func NewUpdateID() UpdateID {
	return UpdateID{UUID: uuid.New()}
}

// ChannelUpdate is the unit of progress described in §3. A ChannelUpdate
// is "pending" until both AliceSignature and BobSignature are populated;
// a half-signed update must never overwrite a double-signed one at the
// same nonce (Invariant 4).
type ChannelUpdate struct {
	ID             UpdateID
	ChannelAddress Address
	FromIdentifier Address
	ToIdentifier   Address
	Type           UpdateType
	Nonce          uint64
	Balance        Balance
	AssetID        Address
	Details        UpdateDetails
	AliceSignature []byte
	BobSignature   []byte
}

// FullySigned reports whether both participant signatures are present.
func (u *ChannelUpdate) FullySigned() bool {
	return len(u.AliceSignature) > 0 && len(u.BobSignature) > 0
}

// Clone returns a deep copy of u so callers never mutate a stored update
// through an alias (the same discipline types.Balance.Clone enforces for
// amounts).
func (u *ChannelUpdate) Clone() *ChannelUpdate {
	if u == nil {
		return nil
	}
	cp := *u
	cp.Balance = u.Balance.Clone()
	if u.AliceSignature != nil {
		cp.AliceSignature = append([]byte(nil), u.AliceSignature...)
	}
	if u.BobSignature != nil {
		cp.BobSignature = append([]byte(nil), u.BobSignature...)
	}
	if u.ID.Signature != nil {
		cp.ID.Signature = append([]byte(nil), u.ID.Signature...)
	}
	return &cp
}

// Encode writes the canonical, signature-agnostic representation of the
// update: ID (UUID and id signature), ChannelAddress, FromIdentifier,
// ToIdentifier, Type, Nonce and AssetID. Balance, Details and
// AliceSignature/BobSignature are not written; core/crypto.HashUpdate
// folds in Balance and Details after calling this, and the participant
// signatures are computed over that digest.
func (u *ChannelUpdate) Encode(w io.Writer) error {
	if err := u.ID.Encode(w); err != nil {
		return err
	}
	return writeElements(w,
		u.ChannelAddress, u.FromIdentifier, u.ToIdentifier,
		uint8(u.Type), u.Nonce, u.AssetID,
	)
}

// Decode is the inverse of Encode for the signature-agnostic fields; the
// Balance and Details payloads are decoded separately because Details is
// polymorphic (see DecodeDetails) and Balance needs no type dispatch but
// is kept alongside Details in wire order for clarity.
func (u *ChannelUpdate) Decode(r io.Reader) error {
	if err := u.ID.Decode(r); err != nil {
		return err
	}
	var typ uint8
	if err := readElements(r,
		&u.ChannelAddress, &u.FromIdentifier, &u.ToIdentifier,
		&typ, &u.Nonce, &u.AssetID,
	); err != nil {
		return err
	}
	u.Type = UpdateType(typ)
	return nil
}

// EncodeFull writes the complete, storage-grade encoding of u: every
// field Encode covers, plus Balance, Details, and both participant
// signatures. Used by a Store implementation persisting latestUpdate;
// never used as a hash-domain input (see core/crypto.HashUpdate, which
// deliberately excludes the signatures this includes).
func (u *ChannelUpdate) EncodeFull(w io.Writer) error {
	if err := u.Encode(w); err != nil {
		return err
	}
	if err := writeBalance(w, u.Balance); err != nil {
		return err
	}
	if err := EncodeDetails(w, u.Details); err != nil {
		return err
	}
	return writeElements(w, u.AliceSignature, u.BobSignature)
}

// DecodeFull is the inverse of EncodeFull.
func (u *ChannelUpdate) DecodeFull(r io.Reader) error {
	if err := u.Decode(r); err != nil {
		return err
	}
	bal, err := readBalance(r)
	if err != nil {
		return err
	}
	u.Balance = bal
	details, err := DecodeDetails(r)
	if err != nil {
		return err
	}
	u.Details = details
	return readElements(r, &u.AliceSignature, &u.BobSignature)
}

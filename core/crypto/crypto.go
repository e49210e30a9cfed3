// Package crypto implements §4.1: deterministic hashing of updates,
// channel commitments, and transfer states, plus sign/verify over a
// recoverable ECDSA scheme. Grounded on zpay32/invoice.go's
// SignCompact/RecoverCompact pattern, adapted from secp256k1-over-bech32
// invoices to secp256k1-over-channel-updates.
package crypto

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/paychan/channelcore/core/types"
)

// Signer produces a recoverable signature over a 32-byte digest. A
// production signer wraps a held private key the way lnwallet.Signer
// wraps the wallet's signing keys; tests use PrivateKeySigner over a
// freshly generated key (see newTestSigner in crypto_test.go).
type Signer interface {
	// SignCompact returns a 65-byte recoverable signature (1-byte
	// recovery header + 64-byte r||s), matching
	// btcec/v2/ecdsa.SignCompact's output format.
	SignCompact(digest []byte) ([]byte, error)

	// Address returns the 20-byte address this signer signs as, i.e.
	// Hash160 of its public key.
	Address() types.Address
}

// PrivateKeySigner is the reference Signer backed by a raw secp256k1
// private key.
type PrivateKeySigner struct {
	Key *btcec.PrivateKey
}

// NewPrivateKeySigner wraps key.
func NewPrivateKeySigner(key *btcec.PrivateKey) *PrivateKeySigner {
	return &PrivateKeySigner{Key: key}
}

// SignCompact implements Signer.
func (p *PrivateKeySigner) SignCompact(digest []byte) ([]byte, error) {
	return ecdsa.SignCompact(p.Key, digest, true), nil
}

// Address implements Signer.
func (p *PrivateKeySigner) Address() types.Address {
	return AddressFromPubKey(p.Key.PubKey())
}

// AddressFromPubKey derives the 20-byte identity address for a pubkey,
// using the same Hash160(pubkey) construction as btcutil.AddressPubKeyHash.
func AddressFromPubKey(pub *btcec.PublicKey) types.Address {
	h := btcutil.Hash160(pub.SerializeCompressed())
	var addr types.Address
	copy(addr[:], h)
	return addr
}

// DeriveChannelAddress computes the deterministic channel identity
// described in §3: a function of the two participant addresses, the
// chain identifier, and the channel-factory address. Using Hash160 here
// keeps channel addresses the same 20-byte width as participant/asset
// addresses, the same way btcutil derives a pubkey-hash address.
func DeriveChannelAddress(alice, bob types.Address, chainID uint64, factory types.Address) types.Address {
	var buf bytes.Buffer
	buf.Write(alice[:])
	buf.Write(bob[:])
	writeUint64(&buf, chainID)
	buf.Write(factory[:])

	h := btcutil.Hash160(buf.Bytes())
	var addr types.Address
	copy(addr[:], h)
	return addr
}

func writeUint64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
	buf.Write(b[:])
}

// Sign produces a recoverable signature over digest using signer.
func Sign(digest types.Hash, signer Signer) ([]byte, error) {
	return signer.SignCompact(digest[:])
}

// Verify recovers the signer's public key from signature over digest and
// reports whether the recovered address exactly equals address. Per
// §4.1: "the recovered address must equal address exactly" — there is no
// fallback to a provided pubkey the way zpay32 falls back to the
// Destination tagged field; this protocol always recovers.
func Verify(signature []byte, digest types.Hash, address types.Address) bool {
	if len(signature) != 65 {
		return false
	}
	pub, _, err := ecdsa.RecoverCompact(signature, digest[:])
	if err != nil {
		log.Tracef("signature recovery failed: %v", err)
		return false
	}
	return AddressFromPubKey(pub) == address
}

// HashUpdate canonically encodes update (excluding AliceSignature and
// BobSignature, which are computed over this digest) and returns its
// single-round chainhash.HashH (one SHA-256) digest. No domain tag is
// mixed in; btcd's transaction and block hashes use the double-SHA-256
// DoubleHashH instead.
func HashUpdate(update *types.ChannelUpdate) (types.Hash, error) {
	var buf bytes.Buffer
	if err := update.Encode(&buf); err != nil {
		return types.Hash{}, fmt.Errorf("crypto: encode update: %w", err)
	}
	if err := writeBalanceForHash(&buf, update.Balance); err != nil {
		return types.Hash{}, err
	}
	detailsBytes, err := types.EncodedDetailsBytes(update.Details)
	if err != nil {
		return types.Hash{}, fmt.Errorf("crypto: encode details: %w", err)
	}
	buf.Write(detailsBytes)

	return chainhash.HashH(buf.Bytes()), nil
}

// HashChannelCommitment canonically encodes core and hashes it. Two
// replicas holding the same CoreChannelState must always produce the
// same digest (Invariant used by the replica-equivalence test).
func HashChannelCommitment(core *types.CoreChannelState) (types.Hash, error) {
	var buf bytes.Buffer
	if err := core.Encode(&buf); err != nil {
		return types.Hash{}, fmt.Errorf("crypto: encode channel commitment: %w", err)
	}
	return chainhash.HashH(buf.Bytes()), nil
}

// HashTransferState canonically encodes core and hashes it. This is the
// leaf digest the Merkle set commits to.
func HashTransferState(core *types.CoreTransferState) (types.Hash, error) {
	var buf bytes.Buffer
	if err := core.Encode(&buf); err != nil {
		return types.Hash{}, fmt.Errorf("crypto: encode transfer state: %w", err)
	}
	return chainhash.HashH(buf.Bytes()), nil
}

// TransferID derives the deterministic transfer identifier required by
// §4.3 ("create"): a hash of the channel address, the channel nonce this
// create update targets, and the create details that define the
// transfer's initial state.
func TransferID(channelAddress types.Address, channelNonce uint64, details *types.CreateDetails) (types.Hash, error) {
	var buf bytes.Buffer
	if err := writeAddressAndNonce(&buf, channelAddress, channelNonce); err != nil {
		return types.Hash{}, err
	}
	if err := writeElementsForTransferID(&buf, details); err != nil {
		return types.Hash{}, err
	}
	return chainhash.HashH(buf.Bytes()), nil
}

// SignUpdateID signs the UUID half of a ChannelUpdate's idempotency key,
// as described in §3: "the initiator signs the uuid so that if
// counterparty injects its own update at the same nonce slot, the
// initiator's queued update is not duplicated on resync".
func SignUpdateID(id types.UpdateID, signer Signer) ([]byte, error) {
	digest := chainhash.HashH(id.UUID[:])
	return signer.SignCompact(digest[:])
}

// VerifyUpdateID verifies the id.Signature field against fromIdentifier,
// implementing Invariant 5.
func VerifyUpdateID(id types.UpdateID, fromIdentifier types.Address) bool {
	digest := chainhash.HashH(id.UUID[:])
	return Verify(id.Signature, digest, fromIdentifier)
}

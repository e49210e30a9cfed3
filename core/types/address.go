// Package types holds the data model of §3: channel and transfer state,
// the ChannelUpdate envelope, and the UpdateDetails tagged sum. Every
// field order here is load-bearing — core/crypto hashes these structs by
// writing fields in exactly the order declared, so participants that
// decode the same bytes must rebuild byte-identical values.
package types

import (
	"encoding/hex"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Address is a 20-byte participant, asset, or transfer-definition
// identifier, the same width btcutil uses for a pubkey-hash address.
// Using a fixed array (rather than a slice) keeps Address comparable and
// safe to use as a map key, matching lnwire.ChannelID's fixed-array
// convention.
type Address [20]byte

// ZeroAddress is the reserved identifier for the chain's native asset
// (scenario 2 in §8 uses it: "asset 0x0").
var ZeroAddress = Address{}

func (a Address) String() string {
	return hex.EncodeToString(a[:])
}

// IsZero reports whether a is the native-asset / unset address.
func (a Address) IsZero() bool {
	return a == ZeroAddress
}

// Hash is a 32-byte digest: update hashes, channel commitments, transfer
// state hashes, and the Merkle root all share this type.
type Hash = chainhash.Hash

// ZeroHash is the empty Merkle root (§4.2: "Empty set → all-zero root").
var ZeroHash = Hash{}

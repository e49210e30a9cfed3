// Package merkle implements §4.2: the active-transfer set committed as a
// Merkle root of transfer-state hashes in canonical key-sorted order.
// Every operation is a pure function over a []*types.CoreTransferState
// value rather than a long-lived stateful tree, because core/applier
// treats the whole apply step as pure (§4.3): the active set is threaded
// through as a value, never mutated through a shared handle.
package merkle

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/paychan/channelcore/core/crypto"
	"github.com/paychan/channelcore/core/types"
)

// Root computes the Merkle root over transfers' hashed leaves in
// canonical key-sorted (by TransferID) order, so two participants with
// the same set always agree on the root regardless of slice order.
// "Empty set → all-zero root" per §4.2.
func Root(transfers []*types.CoreTransferState) (types.Hash, error) {
	if len(transfers) == 0 {
		return types.ZeroHash, nil
	}

	leaves, err := sortedLeaves(transfers)
	if err != nil {
		return types.Hash{}, err
	}
	return buildRoot(leaves), nil
}

// Proof returns the sibling path from transferId's leaf up to the root,
// in order from leaf to root.
func Proof(transfers []*types.CoreTransferState, transferID types.Hash) ([]types.Hash, error) {
	leaves, err := sortedLeaves(transfers)
	if err != nil {
		return nil, err
	}

	idx := -1
	for i, t := range transfers {
		if t.TransferID == transferID {
			idx = indexOfSortedLeaf(leaves, t)
			break
		}
	}
	if idx < 0 {
		return nil, fmt.Errorf("merkle: transfer %s not in set", transferID)
	}

	return buildProof(leaves, idx), nil
}

// Insert returns a new slice with state appended and the resulting root.
// Duplicate TransferID is an error, matching §4.3's "duplicate insert is
// an error".
func Insert(transfers []*types.CoreTransferState, state *types.CoreTransferState) ([]*types.CoreTransferState, types.Hash, error) {
	for _, t := range transfers {
		if t.TransferID == state.TransferID {
			return nil, types.Hash{}, fmt.Errorf(
				"merkle: transfer %s already in set", state.TransferID)
		}
	}

	next := make([]*types.CoreTransferState, len(transfers), len(transfers)+1)
	copy(next, transfers)
	next = append(next, state)

	root, err := Root(next)
	if err != nil {
		return nil, types.Hash{}, err
	}
	return next, root, nil
}

// Remove returns a new slice with transferID's entry removed and the
// resulting root. A missing transferID is an error.
func Remove(transfers []*types.CoreTransferState, transferID types.Hash) ([]*types.CoreTransferState, types.Hash, error) {
	next := make([]*types.CoreTransferState, 0, len(transfers))
	found := false
	for _, t := range transfers {
		if t.TransferID == transferID {
			found = true
			continue
		}
		next = append(next, t)
	}
	if !found {
		return nil, types.Hash{}, fmt.Errorf("merkle: transfer %s not in set", transferID)
	}

	root, err := Root(next)
	if err != nil {
		return nil, types.Hash{}, err
	}
	return next, root, nil
}

type leaf struct {
	id   types.Hash
	hash types.Hash
}

func sortedLeaves(transfers []*types.CoreTransferState) ([]leaf, error) {
	leaves := make([]leaf, len(transfers))
	for i, t := range transfers {
		h, err := crypto.HashTransferState(t)
		if err != nil {
			return nil, err
		}
		leaves[i] = leaf{id: t.TransferID, hash: h}
	}
	sort.Slice(leaves, func(i, j int) bool {
		return bytes.Compare(leaves[i].id[:], leaves[j].id[:]) < 0
	})
	return leaves, nil
}

func indexOfSortedLeaf(leaves []leaf, t *types.CoreTransferState) int {
	for i, l := range leaves {
		if l.id == t.TransferID {
			return i
		}
	}
	return -1
}

// buildRoot folds leaves pairwise bottom-up, duplicating the final odd
// leaf at each level, the same convention btcd's wire.BuildMerkleTreeStore
// uses for block merkle roots.
func buildRoot(leaves []leaf) types.Hash {
	level := make([]types.Hash, len(leaves))
	for i, l := range leaves {
		level[i] = l.hash
	}
	for len(level) > 1 {
		level = combineLevel(level)
	}
	return level[0]
}

func combineLevel(level []types.Hash) []types.Hash {
	if len(level)%2 == 1 {
		level = append(level, level[len(level)-1])
	}
	next := make([]types.Hash, len(level)/2)
	for i := 0; i < len(level); i += 2 {
		next[i/2] = combine(level[i], level[i+1])
	}
	return next
}

func combine(a, b types.Hash) types.Hash {
	buf := make([]byte, 64)
	copy(buf[:32], a[:])
	copy(buf[32:], b[:])
	return chainhash.HashH(buf)
}

// buildProof replays buildRoot's level folding, recording the sibling at
// each level for the leaf originally at idx.
func buildProof(leaves []leaf, idx int) []types.Hash {
	level := make([]types.Hash, len(leaves))
	for i, l := range leaves {
		level[i] = l.hash
	}

	var path []types.Hash
	pos := idx
	for len(level) > 1 {
		padded := level
		if len(padded)%2 == 1 {
			padded = append(append([]types.Hash{}, padded...), padded[len(padded)-1])
		}

		var sibling types.Hash
		if pos%2 == 0 {
			sibling = padded[pos+1]
		} else {
			sibling = padded[pos-1]
		}
		path = append(path, sibling)

		level = combineLevel(level)
		pos /= 2
	}
	return path
}

package merkle

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/paychan/channelcore/core/types"
)

func coreTransfer(id byte) *types.CoreTransferState {
	return &types.CoreTransferState{
		TransferID:       types.Hash{id},
		ChannelAddress:   types.Address{9},
		Initiator:        types.Address{1},
		Responder:        types.Address{2},
		AssetID:          types.Address{0},
		Balance:          types.ZeroBalance(types.Address{1}, types.Address{2}),
		TransferTimeout:  100,
		InitialStateHash: types.Hash{id, id},
	}
}

func TestRootEmptySetIsZero(t *testing.T) {
	root, err := Root(nil)
	require.NoError(t, err)
	require.Equal(t, types.ZeroHash, root)
}

func TestRootOrderIndependent(t *testing.T) {
	a, b, c := coreTransfer(1), coreTransfer(2), coreTransfer(3)

	r1, err := Root([]*types.CoreTransferState{a, b, c})
	require.NoError(t, err)
	r2, err := Root([]*types.CoreTransferState{c, a, b})
	require.NoError(t, err)

	require.Equal(t, r1, r2)
}

func TestInsertDuplicateIsError(t *testing.T) {
	a := coreTransfer(1)
	set, _, err := Insert(nil, a)
	require.NoError(t, err)

	_, _, err = Insert(set, coreTransfer(1))
	require.Error(t, err)
}

func TestInsertChangesRoot(t *testing.T) {
	a := coreTransfer(1)

	set, root1, err := Insert(nil, a)
	require.NoError(t, err)
	require.Len(t, set, 1)

	set2, root2, err := Insert(set, coreTransfer(2))
	require.NoError(t, err)
	require.Len(t, set2, 2)
	require.NotEqual(t, root1, root2)
}

func TestRemoveMissingIsError(t *testing.T) {
	set := []*types.CoreTransferState{coreTransfer(1)}
	_, _, err := Remove(set, types.Hash{0xff})
	require.Error(t, err)
}

func TestRemoveClearsEntryAndRestoresZeroRoot(t *testing.T) {
	a := coreTransfer(1)
	set, _, err := Insert(nil, a)
	require.NoError(t, err)

	next, root, err := Remove(set, a.TransferID)
	require.NoError(t, err)
	require.Len(t, next, 0)
	require.Equal(t, types.ZeroHash, root)
}

func TestProofForKnownTransfer(t *testing.T) {
	a, b, c := coreTransfer(1), coreTransfer(2), coreTransfer(3)
	set := []*types.CoreTransferState{a, b, c}

	proof, err := Proof(set, b.TransferID)
	require.NoError(t, err)
	require.NotEmpty(t, proof)
}

func TestProofForUnknownTransferIsError(t *testing.T) {
	set := []*types.CoreTransferState{coreTransfer(1)}
	_, err := Proof(set, types.Hash{0xff})
	require.Error(t, err)
}

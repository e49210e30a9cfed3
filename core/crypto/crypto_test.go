package crypto

import (
	"crypto/rand"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/require"

	"github.com/paychan/channelcore/core/types"
)

func newTestSigner(t *testing.T) *PrivateKeySigner {
	t.Helper()
	key, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	return NewPrivateKeySigner(key)
}

func randomDigest(t *testing.T) types.Hash {
	t.Helper()
	var h types.Hash
	_, err := rand.Read(h[:])
	require.NoError(t, err)
	return h
}

func TestSignVerifyRoundTrip(t *testing.T) {
	signer := newTestSigner(t)
	digest := randomDigest(t)

	sig, err := Sign(digest, signer)
	require.NoError(t, err)
	require.True(t, Verify(sig, digest, signer.Address()))
}

func TestVerifyRejectsWrongAddress(t *testing.T) {
	signer := newTestSigner(t)
	other := newTestSigner(t)
	digest := randomDigest(t)

	sig, err := Sign(digest, signer)
	require.NoError(t, err)
	require.False(t, Verify(sig, digest, other.Address()))
}

func TestVerifyRejectsMalformedSignature(t *testing.T) {
	digest := randomDigest(t)
	require.False(t, Verify([]byte{1, 2, 3}, digest, types.Address{}))
}

func TestVerifyRejectsTamperedDigest(t *testing.T) {
	signer := newTestSigner(t)
	digest := randomDigest(t)

	sig, err := Sign(digest, signer)
	require.NoError(t, err)

	tampered := digest
	tampered[0] ^= 0xff
	require.False(t, Verify(sig, tampered, signer.Address()))
}

func TestDeriveChannelAddressDeterministic(t *testing.T) {
	alice := types.Address{1}
	bob := types.Address{2}
	factory := types.Address{3}

	a1 := DeriveChannelAddress(alice, bob, 5, factory)
	a2 := DeriveChannelAddress(alice, bob, 5, factory)
	require.Equal(t, a1, a2)

	a3 := DeriveChannelAddress(bob, alice, 5, factory)
	require.NotEqual(t, a1, a3)

	a4 := DeriveChannelAddress(alice, bob, 6, factory)
	require.NotEqual(t, a1, a4)
}

func TestHashUpdateDeterministicAndSignatureAgnostic(t *testing.T) {
	base := &types.ChannelUpdate{
		ID:             types.NewUpdateID(),
		ChannelAddress: types.Address{9},
		FromIdentifier: types.Address{1},
		ToIdentifier:   types.Address{2},
		Type:           types.UpdateDeposit,
		Nonce:          2,
		Balance:        types.ZeroBalance(types.Address{1}, types.Address{2}),
		AssetID:        types.Address{0},
		Details:        &types.DepositDetails{},
	}

	h1, err := HashUpdate(base)
	require.NoError(t, err)

	withSigs := base.Clone()
	withSigs.AliceSignature = []byte{1, 2, 3}
	withSigs.BobSignature = []byte{4, 5, 6}

	h2, err := HashUpdate(withSigs)
	require.NoError(t, err)

	require.Equal(t, h1, h2)

	changed := base.Clone()
	changed.Nonce = 3
	h3, err := HashUpdate(changed)
	require.NoError(t, err)
	require.NotEqual(t, h1, h3)
}

func TestHashChannelCommitmentDeterministic(t *testing.T) {
	core := &types.CoreChannelState{
		ChannelAddress: types.Address{9},
		Alice:          types.Address{1},
		Bob:            types.Address{2},
		Nonce:          1,
		MerkleRoot:     types.ZeroHash,
	}

	h1, err := HashChannelCommitment(core)
	require.NoError(t, err)
	h2, err := HashChannelCommitment(core)
	require.NoError(t, err)
	require.Equal(t, h1, h2)

	core2 := core.Clone()
	core2.Nonce = 2
	h3, err := HashChannelCommitment(core2)
	require.NoError(t, err)
	require.NotEqual(t, h1, h3)
}

func TestTransferIDDeterministic(t *testing.T) {
	details := &types.CreateDetails{
		TransferDefinition: types.Address{3},
		TransferTimeout:    100,
		InitialStateHash:   types.Hash{6},
		Balance:            types.ZeroBalance(types.Address{1}, types.Address{2}),
	}

	id1, err := TransferID(types.Address{9}, 3, details)
	require.NoError(t, err)
	id2, err := TransferID(types.Address{9}, 3, details)
	require.NoError(t, err)
	require.Equal(t, id1, id2)

	id3, err := TransferID(types.Address{9}, 4, details)
	require.NoError(t, err)
	require.NotEqual(t, id1, id3)
}

func TestSignAndVerifyUpdateID(t *testing.T) {
	signer := newTestSigner(t)
	id := types.NewUpdateID()

	sig, err := SignUpdateID(id, signer)
	require.NoError(t, err)
	id.Signature = sig

	require.True(t, VerifyUpdateID(id, signer.Address()))

	id.Signature = []byte{0xde, 0xad}
	require.False(t, VerifyUpdateID(id, signer.Address()))
}

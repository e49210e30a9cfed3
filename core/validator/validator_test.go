package validator

import (
	"context"
	"math/big"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/require"

	"github.com/paychan/channelcore/core/contracts"
	"github.com/paychan/channelcore/core/crypto"
	"github.com/paychan/channelcore/core/types"
)

func testPolicy(registered ...types.Address) Policy {
	defs := make(map[types.Address]struct{}, len(registered))
	for _, d := range registered {
		defs[d] = struct{}{}
	}
	return Policy{
		MinTransferTimeout:            60,
		MaxTransferTimeout:            7 * 24 * 3600,
		RegisteredTransferDefinitions: defs,
	}
}

func channelWithBalance(alice, bob types.Address, aliceAmt, bobAmt int64) *types.FullChannelState {
	return &types.FullChannelState{
		CoreChannelState: types.CoreChannelState{
			ChannelAddress:     types.Address{9},
			Alice:              alice,
			Bob:                bob,
			AssetIds:           []types.Address{{0}},
			Balances:           []types.Balance{{Amount: [2]*big.Int{big.NewInt(aliceAmt), big.NewInt(bobAmt)}, To: [2]types.Address{alice, bob}}},
			ProcessedDepositsA: []*big.Int{big.NewInt(aliceAmt)},
			ProcessedDepositsB: []*big.Int{big.NewInt(bobAmt)},
			DefundNonces:       []uint64{0},
			Nonce:              1,
			MerkleRoot:         types.ZeroHash,
		},
		AliceIdentifier: alice,
		BobIdentifier:   bob,
	}
}

func TestValidateOutboundRejectsNonSetupOnEmptyChannel(t *testing.T) {
	params := OutboundParams{
		Type:    types.UpdateDeposit,
		Details: &types.DepositDetails{},
	}
	_, err := ValidateOutbound(context.Background(), params, &types.FullChannelState{}, nil, Deps{Policy: testPolicy()})
	require.Error(t, err)
}

func TestValidateOutboundRejectsSetupOnNonEmptyChannel(t *testing.T) {
	alice, bob := types.Address{1}, types.Address{2}
	channel := channelWithBalance(alice, bob, 0, 0)
	params := OutboundParams{
		Type: types.UpdateSetup,
		Details: &types.SetupDetails{
			Alice: alice, Bob: bob,
		},
	}
	_, err := ValidateOutbound(context.Background(), params, channel, nil, Deps{Policy: testPolicy()})
	require.Error(t, err)
}

func TestValidateOutboundBuildsProposalForDeposit(t *testing.T) {
	alice, bob := types.Address{1}, types.Address{2}
	channel := channelWithBalance(alice, bob, 0, 0)

	params := OutboundParams{
		ChannelAddress: channel.ChannelAddress,
		Type:           types.UpdateDeposit,
		FromIdentifier: alice,
		ToIdentifier:   bob,
		AssetID:        types.Address{0},
		Details:        &types.DepositDetails{},
	}

	deps := Deps{Policy: testPolicy(), ChainReader: depositReaderReturning(100)}
	proposal, err := ValidateOutbound(context.Background(), params, channel, nil, deps)
	require.NoError(t, err)
	require.Equal(t, uint64(2), proposal.Update.Nonce)
	require.Equal(t, int64(100), proposal.NextChannel.Balances[0].Amount[0].Int64())
}

type depositReader struct {
	amount int64
}

func depositReaderReturning(amount int64) contracts.ChainReader {
	return depositReader{amount: amount}
}

func (d depositReader) GetCode(ctx context.Context, address types.Address, chainID uint64) ([]byte, error) {
	return nil, nil
}

func (d depositReader) GetLatestDepositByAssetID(ctx context.Context, channel, assetID types.Address, chainID uint64) (contracts.LatestDeposit, error) {
	return contracts.LatestDeposit{Amount: big.NewInt(d.amount)}, nil
}

func (d depositReader) Resolve(ctx context.Context, ts *types.CoreTransferState, resolver []byte, chainID uint64) (types.Balance, error) {
	return types.Balance{}, nil
}

func TestCheckCommonPreconditionsRejectsWrongChannelAddress(t *testing.T) {
	alice, bob := types.Address{1}, types.Address{2}
	channel := channelWithBalance(alice, bob, 0, 0)

	update := &types.ChannelUpdate{
		ChannelAddress: types.Address{99},
		Type:           types.UpdateDeposit,
		FromIdentifier: alice,
		ToIdentifier:   bob,
	}
	err := checkCommonPreconditions(update, channel, testPolicy())
	require.Error(t, err)
}

func TestCheckCommonPreconditionsRejectsNonParticipantFrom(t *testing.T) {
	alice, bob := types.Address{1}, types.Address{2}
	channel := channelWithBalance(alice, bob, 0, 0)

	update := &types.ChannelUpdate{
		ChannelAddress: channel.ChannelAddress,
		Type:           types.UpdateDeposit,
		FromIdentifier: types.Address{55},
		ToIdentifier:   bob,
	}
	err := checkCommonPreconditions(update, channel, testPolicy())
	require.Error(t, err)
}

func TestCheckCommonPreconditionsRejectsWrongToIdentifier(t *testing.T) {
	alice, bob := types.Address{1}, types.Address{2}
	channel := channelWithBalance(alice, bob, 0, 0)

	update := &types.ChannelUpdate{
		ChannelAddress: channel.ChannelAddress,
		Type:           types.UpdateDeposit,
		FromIdentifier: alice,
		ToIdentifier:   types.Address{55},
	}
	err := checkCommonPreconditions(update, channel, testPolicy())
	require.Error(t, err)
}

func TestCheckCreatePreconditionsRejectsOutOfBoundsTimeout(t *testing.T) {
	alice, bob := types.Address{1}, types.Address{2}
	channel := channelWithBalance(alice, bob, 0, 0)
	def := types.Address{3}

	details := &types.CreateDetails{
		TransferDefinition: def,
		TransferTimeout:    1,
		Balance:            types.Balance{Amount: [2]*big.Int{big.NewInt(0), big.NewInt(0)}, To: [2]types.Address{alice, bob}},
	}
	err := checkCreatePreconditions(channel, details, testPolicy(def))
	require.Error(t, err)
}

func TestCheckCreatePreconditionsRejectsUnregisteredDefinition(t *testing.T) {
	alice, bob := types.Address{1}, types.Address{2}
	channel := channelWithBalance(alice, bob, 0, 0)

	details := &types.CreateDetails{
		TransferDefinition: types.Address{200},
		TransferTimeout:    100,
		Balance:            types.Balance{Amount: [2]*big.Int{big.NewInt(0), big.NewInt(0)}, To: [2]types.Address{alice, bob}},
	}
	err := checkCreatePreconditions(channel, details, testPolicy(types.Address{3}))
	require.Error(t, err)
}

func TestCheckCreatePreconditionsRejectsNonParticipantBalanceTo(t *testing.T) {
	alice, bob := types.Address{1}, types.Address{2}
	channel := channelWithBalance(alice, bob, 0, 0)
	def := types.Address{3}

	details := &types.CreateDetails{
		TransferDefinition: def,
		TransferTimeout:    100,
		Balance:            types.Balance{Amount: [2]*big.Int{big.NewInt(0), big.NewInt(0)}, To: [2]types.Address{alice, types.Address{77}}},
	}
	err := checkCreatePreconditions(channel, details, testPolicy(def))
	require.Error(t, err)
}

func TestCheckConservationRejectsNegativeBalance(t *testing.T) {
	alice, bob := types.Address{1}, types.Address{2}
	next := channelWithBalance(alice, bob, 10, 10)
	next.Balances[0].Amount[0] = big.NewInt(-1)

	err := checkConservation(next, nil)
	require.Error(t, err)
}

func TestCheckConservationRejectsOverAllocation(t *testing.T) {
	alice, bob := types.Address{1}, types.Address{2}
	next := channelWithBalance(alice, bob, 10, 10)
	next.Balances[0].Amount[0] = big.NewInt(100)

	err := checkConservation(next, nil)
	require.Error(t, err)
}

func TestCheckConservationRejectsOverAllocationFromLockedTransfers(t *testing.T) {
	alice, bob := types.Address{1}, types.Address{2}
	next := channelWithBalance(alice, bob, 10, 10)
	assetID := next.AssetIds[0]

	locked := &types.FullTransferState{
		CoreTransferState: types.CoreTransferState{
			AssetID: assetID,
			Balance: types.Balance{
				Amount: [2]*big.Int{big.NewInt(15), big.NewInt(0)},
				To:     [2]types.Address{alice, bob},
			},
		},
	}

	err := checkConservation(next, []*types.FullTransferState{locked})
	require.Error(t, err)
}

func TestVerifyUpdateSignatureRejectsBadIDSignature(t *testing.T) {
	key, err := btcec.NewPrivateKey()
	require.NoError(t, err)

	update := &types.ChannelUpdate{
		ID:             types.NewUpdateID(),
		FromIdentifier: crypto.AddressFromPubKey(key.PubKey()),
	}
	update.ID.Signature = []byte{1, 2, 3}

	require.False(t, verifyUpdateSignature(update))
}

func TestVerifyUpdateSignatureAcceptsValidSignature(t *testing.T) {
	key, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	signer := crypto.NewPrivateKeySigner(key)

	id := types.NewUpdateID()
	sig, err := crypto.SignUpdateID(id, signer)
	require.NoError(t, err)
	id.Signature = sig

	update := &types.ChannelUpdate{
		ID:             id,
		FromIdentifier: signer.Address(),
	}
	require.True(t, verifyUpdateSignature(update))
}

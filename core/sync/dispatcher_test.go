package sync

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/paychan/channelcore/core/chanerr"
	"github.com/paychan/channelcore/core/contracts"
	"github.com/paychan/channelcore/core/crypto"
	"github.com/paychan/channelcore/core/types"
	"github.com/paychan/channelcore/core/validator"
)

func TestDispatcherOutboundAppliesSetup(t *testing.T) {
	aliceSigner, bobSigner := newKeyPair(t)
	alice, bob := aliceSigner.Address(), bobSigner.Address()

	cp := &counterparty{channel: &types.FullChannelState{}, signer: bobSigner, deps: testDeps()}
	deps := Deps{Validator: testDeps(), Messaging: cp, Store: newMemStore(), Signer: aliceSigner}

	d := NewDispatcher(deps, 4)
	defer d.Stop()

	params := validator.OutboundParams{
		ChannelAddress: crypto.DeriveChannelAddress(alice, bob, 5, types.Address{7}),
		Type:           types.UpdateSetup,
		FromIdentifier: alice,
		ToIdentifier:   bob,
		Details: &types.SetupDetails{
			Alice: alice, Bob: bob,
			AliceIdentifier: alice, BobIdentifier: bob,
			Timeout: 86400, ChainID: 5, ChannelFactory: types.Address{7},
		},
	}

	result, err := d.Outbound(context.Background(), params.ChannelAddress, params, &types.FullChannelState{}, nil)
	require.NoError(t, err)
	require.Equal(t, StatusApplied, result.Status)
	require.Equal(t, uint64(1), result.Channel.Nonce)
}

// TestDispatcherSerializesSameChannel drives two successive deposit
// proposals for the same channel through one lane, each using the prior
// call's committed state as the next call's prevChannel. This is the
// realistic caller pattern the lane exists to protect: a second proposal
// never races applier.Apply against the first's in-flight write.
func TestDispatcherSerializesSameChannel(t *testing.T) {
	aliceSigner, bobSigner := newKeyPair(t)
	alice, bob := aliceSigner.Address(), bobSigner.Address()
	channelAddr := crypto.DeriveChannelAddress(alice, bob, 5, types.Address{7})

	channel := depositableChannel(channelAddr, alice, bob)

	cp := &counterparty{channel: channel, signer: bobSigner, deps: testDeps()}
	deps := Deps{Validator: testDeps(), Messaging: cp, Store: newMemStore(), Signer: aliceSigner}

	d := NewDispatcher(deps, 4)
	defer d.Stop()

	params := validator.OutboundParams{
		ChannelAddress: channelAddr,
		Type:           types.UpdateDeposit,
		FromIdentifier: alice,
		ToIdentifier:   bob,
		AssetID:        types.Address{0},
		Details:        &types.DepositDetails{},
	}

	first, err := d.Outbound(context.Background(), channelAddr, params, channel, nil)
	require.NoError(t, err)
	require.Equal(t, uint64(2), first.Channel.Nonce)

	second, err := d.Outbound(context.Background(), channelAddr, params, first.Channel, first.ActiveTransfers)
	require.NoError(t, err)
	require.Equal(t, uint64(3), second.Channel.Nonce)
}

func depositableChannel(channelAddr, alice, bob types.Address) *types.FullChannelState {
	return &types.FullChannelState{
		CoreChannelState: types.CoreChannelState{
			ChannelAddress:     channelAddr,
			Alice:              alice,
			Bob:                bob,
			AssetIds:           []types.Address{{0}},
			Balances:           []types.Balance{types.ZeroBalance(alice, bob)},
			ProcessedDepositsA: []*big.Int{big.NewInt(0)},
			ProcessedDepositsB: []*big.Int{big.NewInt(0)},
			DefundNonces:       []uint64{0},
			Nonce:              1,
			MerkleRoot:         types.ZeroHash,
		},
		AliceIdentifier: alice,
		BobIdentifier:   bob,
	}
}

// blockingMessaging waits for release to close before delegating to inner,
// used to hold a dispatcher lane occupied while exercising the fan-out
// semaphore from a second, concurrent channel.
type blockingMessaging struct {
	release chan struct{}
	inner   contracts.Messaging
}

func (b *blockingMessaging) SendProtocolMessage(ctx context.Context, update, previousUpdate *types.ChannelUpdate) (*contracts.ProtocolReply, error) {
	select {
	case <-b.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return b.inner.SendProtocolMessage(ctx, update, previousUpdate)
}

func TestDispatcherFanOutLimitBlocksSecondChannel(t *testing.T) {
	aliceSigner, bobSigner := newKeyPair(t)
	alice, bob := aliceSigner.Address(), bobSigner.Address()
	channelA := crypto.DeriveChannelAddress(alice, bob, 5, types.Address{7})
	channelB := crypto.DeriveChannelAddress(alice, bob, 6, types.Address{7})

	cp := &counterparty{channel: &types.FullChannelState{}, signer: bobSigner, deps: testDeps()}
	blocked := &blockingMessaging{release: make(chan struct{}), inner: cp}
	deps := Deps{Validator: testDeps(), Messaging: blocked, Store: newMemStore(), Signer: aliceSigner}

	// fan-out of 1: a second channel's Outbound call must wait for the
	// semaphore slot the first channel's in-flight call is holding.
	d := NewDispatcher(deps, 1)
	defer d.Stop()

	setupParams := func(addr types.Address, chainID uint64) validator.OutboundParams {
		return validator.OutboundParams{
			ChannelAddress: addr,
			Type:           types.UpdateSetup,
			FromIdentifier: alice,
			ToIdentifier:   bob,
			Details: &types.SetupDetails{
				Alice: alice, Bob: bob,
				AliceIdentifier: alice, BobIdentifier: bob,
				Timeout: 86400, ChainID: chainID, ChannelFactory: types.Address{7},
			},
		}
	}

	firstDone := make(chan struct{})
	go func() {
		defer close(firstDone)
		_, _ = d.Outbound(context.Background(), channelA, setupParams(channelA, 5), &types.FullChannelState{}, nil)
	}()

	// give the first call time to acquire the only fan-out slot and block
	// inside SendProtocolMessage.
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := d.Outbound(ctx, channelB, setupParams(channelB, 6), &types.FullChannelState{}, nil)
	require.Error(t, err)

	var ce *chanerr.CoreError
	require.ErrorAs(t, err, &ce)
	require.Equal(t, chanerr.KindCounterpartyFailure, ce.Kind())

	close(blocked.release)
	<-firstDone
}

// flakyMessaging fails the first failCount sends with a CounterpartyFailure,
// then delegates to an underlying counterparty for the remaining attempts.
type flakyMessaging struct {
	failCount int
	attempts  int
	inner     contracts.Messaging
}

func (f *flakyMessaging) SendProtocolMessage(ctx context.Context, update, previousUpdate *types.ChannelUpdate) (*contracts.ProtocolReply, error) {
	f.attempts++
	if f.attempts <= f.failCount {
		return nil, chanerr.New(chanerr.KindCounterpartyFailure, "simulated transport failure", nil)
	}
	return f.inner.SendProtocolMessage(ctx, update, previousUpdate)
}

func TestOutboundWithRetrySucceedsAfterTransientFailures(t *testing.T) {
	aliceSigner, bobSigner := newKeyPair(t)
	alice, bob := aliceSigner.Address(), bobSigner.Address()
	channelAddr := crypto.DeriveChannelAddress(alice, bob, 5, types.Address{7})

	cp := &counterparty{channel: &types.FullChannelState{}, signer: bobSigner, deps: testDeps()}
	flaky := &flakyMessaging{failCount: 2, inner: cp}
	deps := Deps{Validator: testDeps(), Messaging: flaky, Store: newMemStore(), Signer: aliceSigner}

	d := NewDispatcher(deps, 4)
	defer d.Stop()

	params := validator.OutboundParams{
		ChannelAddress: channelAddr,
		Type:           types.UpdateSetup,
		FromIdentifier: alice,
		ToIdentifier:   bob,
		Details: &types.SetupDetails{
			Alice: alice, Bob: bob,
			AliceIdentifier: alice, BobIdentifier: bob,
			Timeout: 86400, ChainID: 5, ChannelFactory: types.Address{7},
		},
	}

	result, err := d.OutboundWithRetry(context.Background(), channelAddr, params, &types.FullChannelState{}, nil, 5, time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, StatusApplied, result.Status)
	require.Equal(t, 3, flaky.attempts)
}

func TestOutboundWithRetryGivesUpAfterMaxAttempts(t *testing.T) {
	aliceSigner, bobSigner := newKeyPair(t)
	alice, bob := aliceSigner.Address(), bobSigner.Address()
	channelAddr := crypto.DeriveChannelAddress(alice, bob, 5, types.Address{7})

	cp := &counterparty{channel: &types.FullChannelState{}, signer: bobSigner, deps: testDeps()}
	flaky := &flakyMessaging{failCount: 10, inner: cp}
	deps := Deps{Validator: testDeps(), Messaging: flaky, Store: newMemStore(), Signer: aliceSigner}

	d := NewDispatcher(deps, 4)
	defer d.Stop()

	params := validator.OutboundParams{
		ChannelAddress: channelAddr,
		Type:           types.UpdateSetup,
		FromIdentifier: alice,
		ToIdentifier:   bob,
		Details: &types.SetupDetails{
			Alice: alice, Bob: bob,
			AliceIdentifier: alice, BobIdentifier: bob,
			Timeout: 86400, ChainID: 5, ChannelFactory: types.Address{7},
		},
	}

	_, err := d.OutboundWithRetry(context.Background(), channelAddr, params, &types.FullChannelState{}, nil, 3, time.Millisecond)
	require.Error(t, err)

	var ce *chanerr.CoreError
	require.ErrorAs(t, err, &ce)
	require.Equal(t, chanerr.KindCounterpartyFailure, ce.Kind())
	require.Equal(t, 3, flaky.attempts)
}

// TestOutboundWithRetryStopsOnNonRetriableError confirms a fatal sync kind
// (e.g. RestoreNeeded) is returned immediately without consuming retries.
func TestOutboundWithRetryStopsOnNonRetriableError(t *testing.T) {
	aliceSigner, bobSigner := newKeyPair(t)
	alice, bob := aliceSigner.Address(), bobSigner.Address()
	channelAddr := crypto.DeriveChannelAddress(alice, bob, 5, types.Address{7})

	tooFarAhead := &types.ChannelUpdate{
		ChannelAddress: channelAddr,
		Type:           types.UpdateDeposit,
		Nonce:          3,
		AliceSignature: []byte{1},
		BobSignature:   []byte{2},
	}

	cp := &counterparty{forceStale: tooFarAhead}
	deps := Deps{Validator: testDeps(), Messaging: cp, Store: newMemStore(), Signer: aliceSigner}

	d := NewDispatcher(deps, 4)
	defer d.Stop()

	prevChannel := &types.FullChannelState{
		CoreChannelState: types.CoreChannelState{
			ChannelAddress: channelAddr,
			Alice:          alice, Bob: bob,
			Nonce:      1,
			MerkleRoot: types.ZeroHash,
		},
		AliceIdentifier: alice,
		BobIdentifier:   bob,
	}

	params := validator.OutboundParams{
		ChannelAddress: channelAddr,
		Type:           types.UpdateDeposit,
		FromIdentifier: alice,
		ToIdentifier:   bob,
		Details:        &types.DepositDetails{},
	}

	_, err := d.OutboundWithRetry(context.Background(), channelAddr, params, prevChannel, nil, 5, time.Millisecond)
	require.Error(t, err)

	var ce *chanerr.CoreError
	require.ErrorAs(t, err, &ce)
	require.Equal(t, chanerr.KindRestoreNeeded, ce.Kind())
}

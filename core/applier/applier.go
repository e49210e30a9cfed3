// Package applier implements §4.3: the pure function that takes a
// validated update and the prior channel + active-transfer set and
// produces the next channel state and transfer set. Apply never queries
// anything mutable beyond the ChainReader (itself read-only and
// idempotent per §5), and never trusts a proposer-supplied balance — it
// always re-derives the post-update balance from prevChannel, the
// update's Details, and (for deposit/resolve) the ChainReader, the same
// way lnwallet.LightningChannel re-derives commitment balances from HTLC
// deltas rather than trusting a peer-supplied total.
package applier

import (
	"context"
	"fmt"
	"math/big"

	"github.com/paychan/channelcore/core/contracts"
	"github.com/paychan/channelcore/core/crypto"
	"github.com/paychan/channelcore/core/merkle"
	"github.com/paychan/channelcore/core/types"
)

// Result is the output of a successful Apply.
type Result struct {
	NextChannel     *types.FullChannelState
	NextTransfers   []*types.FullTransferState
	ChangedTransfer *types.FullTransferState
}

// Apply produces the next channel state and transfer set for update,
// given the prior replica state. prevChannel may be the zero value only
// when update.Type == UpdateSetup.
func Apply(ctx context.Context, prevChannel *types.FullChannelState, activeTransfers []*types.FullTransferState, update *types.ChannelUpdate, chainReader contracts.ChainReader) (*Result, error) {
	switch d := update.Details.(type) {
	case *types.SetupDetails:
		return applySetup(update, d)
	case *types.DepositDetails:
		return applyDeposit(ctx, prevChannel, activeTransfers, update, chainReader)
	case *types.CreateDetails:
		return applyCreate(prevChannel, activeTransfers, update, d)
	case *types.ResolveDetails:
		return applyResolve(ctx, prevChannel, activeTransfers, update, d, chainReader)
	default:
		return nil, fmt.Errorf("applier: unrecognized update details %T", update.Details)
	}
}

func applySetup(update *types.ChannelUpdate, details *types.SetupDetails) (*Result, error) {
	if update.Nonce != 1 {
		return nil, fmt.Errorf("applier: setup must target nonce 1, got %d", update.Nonce)
	}

	core := types.CoreChannelState{
		ChannelAddress: update.ChannelAddress,
		Alice:          details.Alice,
		Bob:            details.Bob,
		Timeout:        details.Timeout,
		Nonce:          1,
		MerkleRoot:     types.ZeroHash,
	}

	next := &types.FullChannelState{
		CoreChannelState: core,
		AliceIdentifier:  details.AliceIdentifier,
		BobIdentifier:    details.BobIdentifier,
		LatestUpdate:     update,
		NetworkContext: types.NetworkContext{
			ChainID:        details.ChainID,
			ChannelFactory: details.ChannelFactory,
		},
	}

	return &Result{NextChannel: next, NextTransfers: nil}, nil
}

func applyDeposit(ctx context.Context, prevChannel *types.FullChannelState, activeTransfers []*types.FullTransferState, update *types.ChannelUpdate, chainReader contracts.ChainReader) (*Result, error) {
	next := prevChannel.CoreChannelState.Clone()
	full := &types.FullChannelState{
		CoreChannelState: *next,
		AliceIdentifier:  prevChannel.AliceIdentifier,
		BobIdentifier:    prevChannel.BobIdentifier,
		NetworkContext:   prevChannel.NetworkContext,
		InDispute:        prevChannel.InDispute,
	}

	idx := full.AssetIndex(update.AssetID)
	if idx < 0 {
		full.AssetIds = append(full.AssetIds, update.AssetID)
		full.Balances = append(full.Balances, types.ZeroBalance(full.Alice, full.Bob))
		full.ProcessedDepositsA = append(full.ProcessedDepositsA, big.NewInt(0))
		full.ProcessedDepositsB = append(full.ProcessedDepositsB, big.NewInt(0))
		full.DefundNonces = append(full.DefundNonces, 0)
		idx = len(full.AssetIds) - 1
	}

	deposit, err := chainReader.GetLatestDepositByAssetID(
		ctx, full.ChannelAddress, update.AssetID, full.NetworkContext.ChainID,
	)
	if err != nil {
		return nil, fmt.Errorf("applier: query latest deposit: %w", err)
	}

	isAlice := update.FromIdentifier == full.AliceIdentifier

	var processed *big.Int
	if isAlice {
		processed = full.ProcessedDepositsA[idx]
	} else {
		processed = full.ProcessedDepositsB[idx]
	}

	diff := new(big.Int).Sub(deposit.Amount, processed)
	if diff.Sign() < 0 {
		return nil, fmt.Errorf("applier: onchain deposit total %s regressed below processed %s",
			deposit.Amount, processed)
	}

	slot := 1
	if isAlice {
		slot = 0
	}
	full.Balances[idx].Amount[slot] = new(big.Int).Add(full.Balances[idx].Amount[slot], diff)

	if isAlice {
		full.ProcessedDepositsA[idx] = deposit.Amount
	} else {
		full.ProcessedDepositsB[idx] = deposit.Amount
	}

	full.Nonce = update.Nonce
	full.LatestUpdate = update

	return &Result{NextChannel: full, NextTransfers: activeTransfers}, nil
}

func applyCreate(prevChannel *types.FullChannelState, activeTransfers []*types.FullTransferState, update *types.ChannelUpdate, details *types.CreateDetails) (*Result, error) {
	next := prevChannel.CoreChannelState.Clone()
	full := &types.FullChannelState{
		CoreChannelState: *next,
		AliceIdentifier:  prevChannel.AliceIdentifier,
		BobIdentifier:    prevChannel.BobIdentifier,
		NetworkContext:   prevChannel.NetworkContext,
		InDispute:        prevChannel.InDispute,
	}

	idx := full.AssetIndex(update.AssetID)
	if idx < 0 {
		return nil, fmt.Errorf("applier: create references unrecognized asset %s", update.AssetID)
	}

	isAlice := update.FromIdentifier == full.AliceIdentifier
	slot := 1
	if isAlice {
		slot = 0
	}

	debit := details.Balance.Sum()
	if full.Balances[idx].Amount[slot].Cmp(debit) < 0 {
		return nil, fmt.Errorf("applier: insufficient balance to create transfer: have %s, need %s",
			full.Balances[idx].Amount[slot], debit)
	}
	full.Balances[idx].Amount[slot] = new(big.Int).Sub(full.Balances[idx].Amount[slot], debit)

	coreTransfers := toCoreTransfers(activeTransfers)

	initiator, responder := update.FromIdentifier, update.ToIdentifier
	transferCore := &types.CoreTransferState{
		TransferID:         details.TransferID,
		ChannelAddress:     full.ChannelAddress,
		TransferDefinition: details.TransferDefinition,
		Initiator:          initiator,
		Responder:          responder,
		AssetID:            update.AssetID,
		Balance:            details.Balance,
		TransferTimeout:    details.TransferTimeout,
		InitialStateHash:   details.InitialStateHash,
	}

	wantID, err := crypto.TransferID(full.ChannelAddress, update.Nonce, details)
	if err != nil {
		return nil, fmt.Errorf("applier: derive transfer id: %w", err)
	}
	if wantID != details.TransferID {
		return nil, fmt.Errorf("applier: transfer id %s does not match deterministic id %s",
			details.TransferID, wantID)
	}

	nextCore, root, err := merkle.Insert(coreTransfers, transferCore)
	if err != nil {
		return nil, fmt.Errorf("applier: insert transfer: %w", err)
	}
	full.MerkleRoot = root
	full.Nonce = update.Nonce
	full.LatestUpdate = update

	newFull := &types.FullTransferState{CoreTransferState: *transferCore}
	nextTransfers := replaceCoreInFull(activeTransfers, nextCore, newFull)

	log.Debugf("created transfer %s on channel %s at nonce %d", details.TransferID, full.ChannelAddress, update.Nonce)

	return &Result{
		NextChannel:     full,
		NextTransfers:   nextTransfers,
		ChangedTransfer: newFull,
	}, nil
}

func applyResolve(ctx context.Context, prevChannel *types.FullChannelState, activeTransfers []*types.FullTransferState, update *types.ChannelUpdate, details *types.ResolveDetails, chainReader contracts.ChainReader) (*Result, error) {
	next := prevChannel.CoreChannelState.Clone()
	full := &types.FullChannelState{
		CoreChannelState: *next,
		AliceIdentifier:  prevChannel.AliceIdentifier,
		BobIdentifier:    prevChannel.BobIdentifier,
		NetworkContext:   prevChannel.NetworkContext,
		InDispute:        prevChannel.InDispute,
	}

	var target *types.FullTransferState
	for _, t := range activeTransfers {
		if t.TransferID == details.TransferID {
			target = t
			break
		}
	}
	if target == nil {
		return nil, fmt.Errorf("applier: resolve references unknown transfer %s", details.TransferID)
	}

	idx := full.AssetIndex(target.AssetID)
	if idx < 0 {
		return nil, fmt.Errorf("applier: resolve references unrecognized asset %s", target.AssetID)
	}

	payout, err := chainReader.Resolve(ctx, &target.CoreTransferState, details.TransferResolver, full.NetworkContext.ChainID)
	if err != nil {
		return nil, fmt.Errorf("applier: resolve transfer: %w", err)
	}

	for i, to := range payout.To {
		switch to {
		case full.Alice:
			full.Balances[idx].Amount[0] = new(big.Int).Add(full.Balances[idx].Amount[0], payout.Amount[i])
		case full.Bob:
			full.Balances[idx].Amount[1] = new(big.Int).Add(full.Balances[idx].Amount[1], payout.Amount[i])
		default:
			return nil, fmt.Errorf("applier: resolve payout target %s is not a channel participant", to)
		}
	}

	coreTransfers := toCoreTransfers(activeTransfers)
	_, root, err := merkle.Remove(coreTransfers, details.TransferID)
	if err != nil {
		return nil, fmt.Errorf("applier: remove transfer: %w", err)
	}
	full.MerkleRoot = root
	full.Nonce = update.Nonce
	full.LatestUpdate = update

	nextTransfers := removeFromFull(activeTransfers, details.TransferID)

	log.Debugf("resolved transfer %s on channel %s at nonce %d", details.TransferID, full.ChannelAddress, update.Nonce)

	return &Result{
		NextChannel:     full,
		NextTransfers:   nextTransfers,
		ChangedTransfer: target,
	}, nil
}

func toCoreTransfers(full []*types.FullTransferState) []*types.CoreTransferState {
	out := make([]*types.CoreTransferState, len(full))
	for i, f := range full {
		out[i] = &f.CoreTransferState
	}
	return out
}

func replaceCoreInFull(existing []*types.FullTransferState, nextCore []*types.CoreTransferState, added *types.FullTransferState) []*types.FullTransferState {
	out := make([]*types.FullTransferState, 0, len(nextCore))
	for _, c := range nextCore {
		if c.TransferID == added.TransferID {
			out = append(out, added)
			continue
		}
		for _, e := range existing {
			if e.TransferID == c.TransferID {
				out = append(out, e)
				break
			}
		}
	}
	return out
}

func removeFromFull(existing []*types.FullTransferState, transferID types.Hash) []*types.FullTransferState {
	out := make([]*types.FullTransferState, 0, len(existing))
	for _, e := range existing {
		if e.TransferID == transferID {
			continue
		}
		out = append(out, e)
	}
	return out
}

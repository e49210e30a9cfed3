// Package validator implements §4.4: the two entry points that enforce
// preconditions on proposed updates before deferring to core/applier.
// Every fatal precondition here maps onto a *chanerr.CoreError from the
// §7 taxonomy so callers never have to pattern-match a bare error string.
package validator

import (
	"context"
	"fmt"
	"math/big"

	"github.com/paychan/channelcore/core/applier"
	"github.com/paychan/channelcore/core/chanerr"
	"github.com/paychan/channelcore/core/contracts"
	"github.com/paychan/channelcore/core/crypto"
	"github.com/paychan/channelcore/core/types"
)

// Policy bounds the preconditions that depend on deployment
// configuration rather than protocol invariants (§4.4's "transferTimeout
// within policy bounds").
type Policy struct {
	MinTransferTimeout uint64
	MaxTransferTimeout uint64

	// RegisteredTransferDefinitions is the set of transfer-definition
	// addresses this node recognizes; a create referencing any other
	// address is rejected.
	RegisteredTransferDefinitions map[types.Address]struct{}
}

// IsRegistered reports whether def is a recognized transfer definition.
func (p Policy) IsRegistered(def types.Address) bool {
	_, ok := p.RegisteredTransferDefinitions[def]
	return ok
}

// Deps bundles the collaborators Validator needs beyond the channel/
// transfer state it is handed directly.
type Deps struct {
	ChainReader contracts.ChainReader
	External    contracts.ExternalValidator
	Policy      Policy
}

// OutboundParams describes the update the caller wants Outbound's
// Validate step to build, before it is signed.
type OutboundParams struct {
	// ChannelAddress must always be supplied: for setup it is the
	// deterministic address the channel will be identified by (see
	// core/crypto.DeriveChannelAddress); for every other type it must
	// equal the existing replica's address.
	ChannelAddress types.Address

	Type           types.UpdateType
	FromIdentifier types.Address
	ToIdentifier   types.Address
	AssetID        types.Address
	Details        types.UpdateDetails
}

// Proposal is what ValidateOutbound produces: the unsigned candidate
// update plus the state it would produce if committed, so the Sync
// Engine does not need to re-run Apply after signing.
type Proposal struct {
	Update          *types.ChannelUpdate
	NextChannel     *types.FullChannelState
	NextTransfers   []*types.FullTransferState
	ChangedTransfer *types.FullTransferState
}

// ValidateOutbound builds and checks a candidate update at
// channel.Nonce+1 from params, returning it unsigned. The caller (Sync
// Engine) is responsible for signing id.Signature and the participant
// signature before transmission.
func ValidateOutbound(ctx context.Context, params OutboundParams, channel *types.FullChannelState, activeTransfers []*types.FullTransferState, deps Deps) (*Proposal, error) {
	if params.Type != types.UpdateSetup && channel.IsEmpty() {
		return nil, chanerr.New(chanerr.KindInvalidParams,
			"update type requires an existing channel replica", nil)
	}
	if params.Type == types.UpdateSetup && !channel.IsEmpty() {
		return nil, chanerr.New(chanerr.KindInvalidParams,
			"setup requires an absent channel replica", nil)
	}

	nextNonce := nextNonce(channel.Nonce)

	update := &types.ChannelUpdate{
		ID:             types.NewUpdateID(),
		ChannelAddress: params.ChannelAddress,
		FromIdentifier: params.FromIdentifier,
		ToIdentifier:   params.ToIdentifier,
		Type:           params.Type,
		Nonce:          nextNonce,
		AssetID:        params.AssetID,
		Details:        params.Details,
	}

	if err := checkCommonPreconditions(update, channel, deps.Policy); err != nil {
		return nil, err
	}

	result, err := applier.Apply(ctx, channel, activeTransfers, update, deps.ChainReader)
	if err != nil {
		return nil, chanerr.Wrapf(chanerr.KindInvalidParams, err, "apply candidate update")
	}

	if err := checkConservation(result.NextChannel, result.NextTransfers); err != nil {
		return nil, err
	}

	update.Balance = derivedBalance(result.NextChannel, update.AssetID)

	if deps.External != nil {
		if err := deps.External.ValidateOutbound(ctx, update, channel, activeTransfers); err != nil {
			return nil, chanerr.Wrapf(chanerr.KindExternalValidationFailed, err, "external validator rejected outbound update")
		}
	}

	return &Proposal{
		Update:          update,
		NextChannel:     result.NextChannel,
		NextTransfers:   result.NextTransfers,
		ChangedTransfer: result.ChangedTransfer,
	}, nil
}

// InboundResult is what ValidateInbound produces on success.
type InboundResult struct {
	NextChannel     *types.FullChannelState
	NextTransfers   []*types.FullTransferState
	ChangedTransfer *types.FullTransferState
}

// ValidateInbound checks update against channel/activeTransfers and, if
// it passes, applies it and returns the resulting state.
func ValidateInbound(ctx context.Context, update *types.ChannelUpdate, channel *types.FullChannelState, activeTransfers []*types.FullTransferState, deps Deps) (*InboundResult, error) {
	if update.Type != types.UpdateSetup && channel.IsEmpty() {
		return nil, chanerr.New(chanerr.KindInvalidUpdate,
			"update type requires an existing channel replica", nil)
	}
	if update.Type == types.UpdateSetup && !channel.IsEmpty() {
		return nil, chanerr.New(chanerr.KindInvalidUpdate,
			"setup requires an absent channel replica", nil)
	}

	if err := checkCommonPreconditions(update, channel, deps.Policy); err != nil {
		return nil, err
	}

	if !verifyUpdateSignature(update) {
		return nil, chanerr.New(chanerr.KindBadSignatures, "update.id.signature does not verify", nil)
	}

	result, err := applier.Apply(ctx, channel, activeTransfers, update, deps.ChainReader)
	if err != nil {
		log.Debugf("rejecting inbound %s update at nonce %d: %v", update.Type, update.Nonce, err)
		return nil, chanerr.Wrapf(chanerr.KindInvalidUpdate, err, "apply inbound update")
	}

	if err := checkConservation(result.NextChannel, result.NextTransfers); err != nil {
		return nil, err
	}

	if err := checkClaimedBalance(update, result.NextChannel); err != nil {
		return nil, err
	}

	if deps.External != nil {
		if err := deps.External.ValidateInbound(ctx, update, channel, activeTransfers); err != nil {
			return nil, chanerr.Wrapf(chanerr.KindExternalValidationFailed, err, "external validator rejected inbound update")
		}
	}

	return &InboundResult{
		NextChannel:     result.NextChannel,
		NextTransfers:   result.NextTransfers,
		ChangedTransfer: result.ChangedTransfer,
	}, nil
}

// nextNonce implements §4.5's nextNonce(current, initiatorIsAlice) —
// here initiatorIsAlice drops out because both sides always move the
// nonce forward by exactly one regardless of who proposes.
func nextNonce(current uint64) uint64 {
	return current + 1
}

func checkCommonPreconditions(update *types.ChannelUpdate, channel *types.FullChannelState, policy Policy) error {
	if !channel.IsEmpty() && update.ChannelAddress != channel.ChannelAddress {
		return chanerr.New(chanerr.KindInvalidUpdate, "update.channelAddress does not match replica", nil)
	}

	if update.Type != types.UpdateSetup {
		if update.FromIdentifier != channel.AliceIdentifier && update.FromIdentifier != channel.BobIdentifier {
			return chanerr.New(chanerr.KindInvalidUpdate, "fromIdentifier is not a channel participant", nil)
		}
		wantTo := channel.BobIdentifier
		if update.FromIdentifier == channel.BobIdentifier {
			wantTo = channel.AliceIdentifier
		}
		if update.ToIdentifier != wantTo {
			return chanerr.New(chanerr.KindInvalidUpdate, "toIdentifier is not the other participant", nil)
		}
	}

	switch details := update.Details.(type) {
	case *types.CreateDetails:
		if err := checkCreatePreconditions(channel, details, policy); err != nil {
			return err
		}
	case *types.ResolveDetails:
		if len(details.TransferResolver) == 0 {
			return chanerr.New(chanerr.KindInvalidUpdate, "resolve payload is empty", nil)
		}
	}

	return nil
}

func checkCreatePreconditions(channel *types.FullChannelState, details *types.CreateDetails, policy Policy) error {
	for _, to := range details.Balance.To {
		if to != channel.Alice && to != channel.Bob {
			return chanerr.New(chanerr.KindInvalidUpdate, "create balance.to lists a non-participant address", nil)
		}
	}
	if details.TransferTimeout < policy.MinTransferTimeout || details.TransferTimeout > policy.MaxTransferTimeout {
		return chanerr.New(chanerr.KindInvalidUpdate,
			fmt.Sprintf("transfer timeout %d out of policy bounds [%d, %d]",
				details.TransferTimeout, policy.MinTransferTimeout, policy.MaxTransferTimeout), nil)
	}
	if !policy.IsRegistered(details.TransferDefinition) {
		return chanerr.New(chanerr.KindInvalidUpdate, "transfer definition is not registered", nil)
	}
	return nil
}

// checkConservation enforces Invariant 3: per asset, the sum of channel
// balances plus everything locked in active transfers must equal total
// processed deposits. nextTransfers is summed directly per asset rather
// than assumed unchanged, since a create/resolve's debit/credit against
// the locked total is exactly what this check exists to catch if the
// Applier ever got it wrong.
func checkConservation(nextChannel *types.FullChannelState, nextTransfers []*types.FullTransferState) error {
	locked := make([]*big.Int, len(nextChannel.AssetIds))
	for i := range locked {
		locked[i] = new(big.Int)
	}
	for _, transfer := range nextTransfers {
		idx := nextChannel.AssetIndex(transfer.AssetID)
		if idx < 0 {
			continue
		}
		locked[idx].Add(locked[idx], transfer.Balance.Sum())
	}

	for i, assetID := range nextChannel.AssetIds {
		if nextChannel.Balances[i].Amount[0].Sign() < 0 || nextChannel.Balances[i].Amount[1].Sign() < 0 {
			return chanerr.New(chanerr.KindInvalidUpdate,
				fmt.Sprintf("negative balance for asset %s", assetID), nil)
		}

		total := new(big.Int).Add(nextChannel.Balances[i].Sum(), locked[i])
		depositTotal := new(big.Int).Add(nextChannel.ProcessedDepositsA[i], nextChannel.ProcessedDepositsB[i])

		if total.Cmp(depositTotal) != 0 {
			return chanerr.New(chanerr.KindInvalidUpdate,
				fmt.Sprintf("asset %s balances plus locked transfers do not equal processed deposits", assetID), nil)
		}
	}
	return nil
}

func derivedBalance(nextChannel *types.FullChannelState, assetID types.Address) types.Balance {
	idx := nextChannel.AssetIndex(assetID)
	if idx < 0 {
		return types.ZeroBalance(nextChannel.Alice, nextChannel.Bob)
	}
	return nextChannel.Balances[idx]
}

// checkClaimedBalance cross-checks an inbound update's advisory Balance
// field against what the Applier independently derived, so a proposer
// can never get a peer to commit a balance it did not itself re-derive.
func checkClaimedBalance(update *types.ChannelUpdate, nextChannel *types.FullChannelState) error {
	if update.Type == types.UpdateSetup {
		return nil
	}
	want := derivedBalance(nextChannel, update.AssetID)
	if !update.Balance.Equal(want) {
		return chanerr.New(chanerr.KindInvalidUpdate, "claimed balance does not match applied result", nil)
	}
	return nil
}

func verifyUpdateSignature(update *types.ChannelUpdate) bool {
	return crypto.VerifyUpdateID(update.ID, update.FromIdentifier)
}

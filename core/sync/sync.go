package sync

import (
	"context"
	"errors"
	"fmt"

	"github.com/paychan/channelcore/core/chanerr"
	"github.com/paychan/channelcore/core/contracts"
	"github.com/paychan/channelcore/core/crypto"
	"github.com/paychan/channelcore/core/types"
	"github.com/paychan/channelcore/core/validator"
)

// Deps bundles everything Outbound/Inbound need beyond the channel and
// transfer state passed directly: the Validator's own collaborators, the
// transport, the persistence boundary, and the signer this replica holds.
type Deps struct {
	Validator validator.Deps
	Messaging contracts.Messaging
	Store     contracts.Store
	Signer    crypto.Signer
}

// Outbound implements §4.5.1: generate a candidate update, sign it, send
// it to the counterparty, and either commit the double-signed response or
// catch up one step via the counterparty's reported StaleUpdate target.
func Outbound(ctx context.Context, params validator.OutboundParams, prevChannel *types.FullChannelState, activeTransfers []*types.FullTransferState, deps Deps) (*OutboundResult, error) {
	proposal, err := validator.ValidateOutbound(ctx, params, prevChannel, activeTransfers, deps.Validator)
	if err != nil {
		return nil, err
	}

	aliceID, bobID, err := identifiers(prevChannel, params.Details)
	if err != nil {
		return nil, chanerr.Wrapf(chanerr.KindInvalidParams, err, "derive channel identifiers")
	}

	if err := signUpdateID(proposal.Update, deps.Signer); err != nil {
		return nil, chanerr.Wrapf(chanerr.KindInvalidParams, err, "sign update id")
	}
	if err := signParticipant(proposal.Update, deps.Signer, aliceID, bobID); err != nil {
		return nil, chanerr.Wrapf(chanerr.KindInvalidParams, err, "sign update")
	}

	log.Debugf("outbound: sending %s update at nonce %d for channel %s",
		proposal.Update.Type, proposal.Update.Nonce, proposal.Update.ChannelAddress)

	reply, err := deps.Messaging.SendProtocolMessage(ctx, proposal.Update, prevChannel.LatestUpdate)
	if err != nil {
		log.Debugf("outbound: send failed for channel %s: %v", proposal.Update.ChannelAddress, err)
		return handleSendError(ctx, err, prevChannel, activeTransfers, deps)
	}

	if err := verifyBothSignatures(reply.Update, aliceID, bobID); err != nil {
		return nil, chanerr.Wrapf(chanerr.KindBadSignatures, err, "outbound response signatures do not verify")
	}

	proposal.NextChannel.LatestUpdate = reply.Update

	if err := persist(ctx, deps.Store, proposal.NextChannel, reply.Update, proposal.ChangedTransfer, contracts.DirectionOutbound); err != nil {
		return nil, err
	}

	return &OutboundResult{
		Status:          StatusApplied,
		Channel:         proposal.NextChannel,
		ActiveTransfers: proposal.NextTransfers,
		CommittedUpdate: reply.Update,
	}, nil
}

// handleSendError implements the StaleUpdate branch of §4.5.1 step 3: any
// error that is not a StaleUpdate is wrapped in a new CounterpartyFailure
// carrying the original as its cause, but a StaleUpdate carrying a sync
// target is handled by the one-shot syncStateAndRecreateUpdate step,
// never by retrying the send.
func handleSendError(ctx context.Context, sendErr error, prevChannel *types.FullChannelState, activeTransfers []*types.FullTransferState, deps Deps) (*OutboundResult, error) {
	var ce *chanerr.CoreError
	if !errors.As(sendErr, &ce) || ce.Kind() != chanerr.KindStaleUpdate {
		return nil, chanerr.Wrapf(chanerr.KindCounterpartyFailure, sendErr, "send protocol message")
	}

	toSync, ok := ce.Context.(*types.ChannelUpdate)
	if !ok || toSync == nil {
		return nil, chanerr.Wrapf(chanerr.KindCounterpartyFailure, sendErr, "stale update carried no sync target")
	}

	return syncStateAndRecreateUpdate(ctx, toSync, prevChannel, activeTransfers, deps)
}

// syncStateAndRecreateUpdate implements §4.5.1's catch-up: apply the
// counterparty's reported update as an ordinary inbound update, one step
// only, and report status synced without retransmitting the caller's
// original proposal (§9, "Open question": retransmission is a caller
// policy, not engine behavior).
func syncStateAndRecreateUpdate(ctx context.Context, toSync *types.ChannelUpdate, prevChannel *types.FullChannelState, activeTransfers []*types.FullTransferState, deps Deps) (*OutboundResult, error) {
	if toSync.Type == types.UpdateSetup {
		return nil, chanerr.New(chanerr.KindCannotSyncSetup, "sync target is a setup update", nil)
	}
	if !toSync.FullySigned() {
		return nil, chanerr.New(chanerr.KindSyncSingleSigned, "sync target is not double-signed", nil)
	}
	if toSync.Nonce != prevChannel.Nonce+1 {
		return nil, chanerr.New(chanerr.KindRestoreNeeded,
			fmt.Sprintf("sync target nonce %d is not prevChannel.nonce+1 (%d)", toSync.Nonce, prevChannel.Nonce+1), nil)
	}

	log.Infof("outbound: syncing to counterparty's nonce %d for channel %s without retransmitting",
		toSync.Nonce, toSync.ChannelAddress)

	result, err := validator.ValidateInbound(ctx, toSync, prevChannel, activeTransfers, deps.Validator)
	if err != nil {
		return nil, err
	}
	result.NextChannel.LatestUpdate = toSync

	if err := persist(ctx, deps.Store, result.NextChannel, toSync, result.ChangedTransfer, contracts.DirectionInbound); err != nil {
		return nil, err
	}

	return &OutboundResult{
		Status:          StatusSynced,
		Channel:         result.NextChannel,
		ActiveTransfers: result.NextTransfers,
		CommittedUpdate: toSync,
	}, nil
}

// Inbound implements §4.5.2: classify update.nonce against this replica's
// expected nonce and either reject it as stale/too-far-ahead, apply it
// directly, or first replay a supplied one-nonce-back prevUpdate before
// applying update.
func Inbound(ctx context.Context, update, prevUpdate *types.ChannelUpdate, channel *types.FullChannelState, activeTransfers []*types.FullTransferState, deps Deps) (*InboundResult, error) {
	if update.Type == types.UpdateSetup && channel.IsEmpty() {
		return validateApplyAndReply(ctx, update, channel, activeTransfers, deps)
	}

	expected := nextNonce(channel.Nonce)

	switch {
	case update.Nonce < expected:
		if replay := matchesCommittedUpdate(update, channel); replay != nil {
			log.Debugf("inbound: update %s at nonce %d already committed for channel %s, replaying as no-op",
				update.ID.UUID, update.Nonce, update.ChannelAddress)
			return &InboundResult{
				Channel:         channel,
				ActiveTransfers: activeTransfers,
				Reply:           replay,
			}, nil
		}
		return nil, chanerr.New(chanerr.KindStaleUpdate, "update nonce is behind replica", nil).
			WithContext(channel.LatestUpdate)

	case update.Nonce == expected:
		return validateApplyAndReply(ctx, update, channel, activeTransfers, deps)

	case update.Nonce == expected+1:
		if prevUpdate == nil || !prevUpdate.FullySigned() || prevUpdate.Nonce != expected {
			return nil, chanerr.New(chanerr.KindInvalidUpdate,
				"prevUpdate missing, unsigned, or at wrong nonce for off-by-one catch-up", nil)
		}

		caughtUp, err := validateApplyAndReply(ctx, prevUpdate, channel, activeTransfers, deps)
		if err != nil {
			return nil, err
		}

		return validateApplyAndReply(ctx, update, caughtUp.Channel, caughtUp.ActiveTransfers, deps)

	default:
		return nil, chanerr.New(chanerr.KindRestoreNeeded,
			fmt.Sprintf("update nonce %d exceeds expected %d by more than one", update.Nonce, expected), nil)
	}
}

// validateApplyAndReply runs the common core of every Inbound success
// path: validate, apply, complete the missing participant signature, and
// persist atomically before replying.
func validateApplyAndReply(ctx context.Context, update *types.ChannelUpdate, channel *types.FullChannelState, activeTransfers []*types.FullTransferState, deps Deps) (*InboundResult, error) {
	result, err := validator.ValidateInbound(ctx, update, channel, activeTransfers, deps.Validator)
	if err != nil {
		return nil, err
	}

	aliceID, bobID, err := identifiers(channel, update.Details)
	if err != nil {
		return nil, chanerr.Wrapf(chanerr.KindInvalidUpdate, err, "derive channel identifiers")
	}

	if err := signParticipant(update, deps.Signer, aliceID, bobID); err != nil {
		return nil, chanerr.Wrapf(chanerr.KindBadSignatures, err, "sign response")
	}
	if !update.FullySigned() {
		return nil, chanerr.New(chanerr.KindBadSignatures, "update is not fully signed after response", nil)
	}

	result.NextChannel.LatestUpdate = update

	if err := persist(ctx, deps.Store, result.NextChannel, update, result.ChangedTransfer, contracts.DirectionInbound); err != nil {
		return nil, err
	}

	return &InboundResult{
		Channel:         result.NextChannel,
		ActiveTransfers: result.NextTransfers,
		Reply:           update,
	}, nil
}

func nextNonce(current uint64) uint64 {
	return current + 1
}

// matchesCommittedUpdate implements §4.5.3/§8's idempotency contract:
// a replayed update carrying the same id.uuid as the update already
// committed one nonce back is a no-op, not a stale update, provided the
// replica's own record of it is itself fully signed. Returns the
// already-committed update to reply with, or nil if update is genuinely
// stale (wrong nonce gap, no recorded update, different uuid, or an
// incompletely-signed record that cannot be treated as settled).
func matchesCommittedUpdate(update *types.ChannelUpdate, channel *types.FullChannelState) *types.ChannelUpdate {
	if update.Nonce != channel.Nonce {
		return nil
	}
	committed := channel.LatestUpdate
	if committed == nil || !committed.FullySigned() {
		return nil
	}
	if update.ID.UUID != committed.ID.UUID {
		return nil
	}
	return committed
}

// identifiers returns the channel's alice/bob public identifiers. A
// setup update targets an empty channel, so in that one case the
// identifiers come from the update's own SetupDetails rather than from
// channel state that does not exist yet.
func identifiers(channel *types.FullChannelState, details types.UpdateDetails) (alice, bob types.Address, err error) {
	if channel.IsEmpty() {
		sd, ok := details.(*types.SetupDetails)
		if !ok {
			return types.Address{}, types.Address{}, fmt.Errorf("sync: setup details required to derive identifiers on an empty channel")
		}
		return sd.AliceIdentifier, sd.BobIdentifier, nil
	}
	return channel.AliceIdentifier, channel.BobIdentifier, nil
}

func signUpdateID(update *types.ChannelUpdate, signer crypto.Signer) error {
	sig, err := crypto.SignUpdateID(update.ID, signer)
	if err != nil {
		return fmt.Errorf("sign update id: %w", err)
	}
	update.ID.Signature = sig
	return nil
}

// signParticipant signs update's canonical digest and fills in whichever
// of AliceSignature/BobSignature belongs to signer, leaving the other
// slot untouched so a responder's signature never clobbers the
// initiator's.
func signParticipant(update *types.ChannelUpdate, signer crypto.Signer, aliceID, bobID types.Address) error {
	digest, err := crypto.HashUpdate(update)
	if err != nil {
		return fmt.Errorf("hash update: %w", err)
	}
	sig, err := crypto.Sign(digest, signer)
	if err != nil {
		return fmt.Errorf("sign update: %w", err)
	}

	switch signer.Address() {
	case aliceID:
		update.AliceSignature = sig
	case bobID:
		update.BobSignature = sig
	default:
		return fmt.Errorf("signer address is not a channel participant")
	}
	return nil
}

func verifyBothSignatures(update *types.ChannelUpdate, aliceID, bobID types.Address) error {
	digest, err := crypto.HashUpdate(update)
	if err != nil {
		return err
	}
	if !crypto.Verify(update.AliceSignature, digest, aliceID) {
		return fmt.Errorf("alice signature does not verify")
	}
	if !crypto.Verify(update.BobSignature, digest, bobID) {
		return fmt.Errorf("bob signature does not verify")
	}
	return nil
}

func buildTransferChange(update *types.ChannelUpdate, changed *types.FullTransferState) *contracts.TransferChange {
	if changed == nil {
		return nil
	}
	switch update.Type {
	case types.UpdateCreate:
		return &contracts.TransferChange{Kind: contracts.TransferChangeInsert, State: changed}
	case types.UpdateResolve:
		return &contracts.TransferChange{Kind: contracts.TransferChangeRemove, State: changed}
	default:
		return nil
	}
}

// persist commits the next channel state and its transfer side effect
// atomically, then records update as the latest in direction — the
// "apply is atomic with the corresponding persistence write" guarantee
// of §5.
func persist(ctx context.Context, store contracts.Store, nextChannel *types.FullChannelState, update *types.ChannelUpdate, changed *types.FullTransferState, direction contracts.Direction) error {
	change := buildTransferChange(update, changed)
	if err := store.SaveChannelState(ctx, nextChannel, change); err != nil {
		return chanerr.Wrapf(chanerr.KindStoreFailure, err, "save channel state")
	}
	if err := store.SaveLatestUpdate(ctx, nextChannel.ChannelAddress, direction, update); err != nil {
		return chanerr.Wrapf(chanerr.KindStoreFailure, err, "save latest update")
	}
	return nil
}

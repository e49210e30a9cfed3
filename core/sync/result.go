// Package sync implements §4.5: the outbound/inbound state-transition
// procedures that are the heart of the update protocol engine. Grounded
// on peer.go's htlcManager/updateCommitTx request-response loop — the
// same "propose, await the counterparty's signed reply, reconcile a
// stale reply" shape, generalized from HTLC commitment exchange to the
// four update types of this protocol.
package sync

import "github.com/paychan/channelcore/core/types"

// Status reports how an Outbound call concluded.
type Status uint8

const (
	// StatusApplied means the proposed update was double-signed and
	// committed normally.
	StatusApplied Status = iota

	// StatusSynced means the counterparty reported a newer update we
	// had missed; we caught up to it but did not retransmit our
	// original proposal (§4.5.1, the "synced" case).
	StatusSynced
)

// OutboundResult is returned by Outbound on success.
type OutboundResult struct {
	Status Status

	Channel         *types.FullChannelState
	ActiveTransfers []*types.FullTransferState

	// CommittedUpdate is the update that was actually committed: the
	// caller's own proposal when Status == StatusApplied, or the
	// counterparty's update when Status == StatusSynced.
	CommittedUpdate *types.ChannelUpdate
}

// InboundResult is returned by Inbound on success.
type InboundResult struct {
	Channel         *types.FullChannelState
	ActiveTransfers []*types.FullTransferState

	// Reply is the fully-signed update to hand back to the proposer.
	Reply *types.ChannelUpdate
}

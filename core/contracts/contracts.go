// Package contracts defines §6's external interfaces. The Sync Engine
// and Validator depend only on these — never on a concrete transport, kv
// store, or chain client — matching §9's "Shared mutable singletons...
// pass explicitly as parameters; never reach through process-wide state".
package contracts

import (
	"context"
	"math/big"

	"github.com/paychan/channelcore/core/types"
)

// Messaging is the transport boundary consumed by the Sync Engine. A
// conforming implementation MUST deliver update to the counterparty's
// Inbound handler and return its reply (or its error) verbatim. Outbound
// and Inbound never resend on Messaging's behalf; the only resend is the
// opt-in core/sync.Dispatcher.OutboundWithRetry, which retries a
// CounterpartyFailure.
type Messaging interface {
	SendProtocolMessage(ctx context.Context, update, previousUpdate *types.ChannelUpdate) (*ProtocolReply, error)
}

// ProtocolReply is what a Messaging round trip returns on success.
type ProtocolReply struct {
	Update         *types.ChannelUpdate
	PreviousUpdate *types.ChannelUpdate
}

// LatestDeposit is the chain-observed deposit state for one asset.
type LatestDeposit struct {
	Nonce  uint64
	Amount *big.Int
}

// ChainReader is the read-only, idempotent onchain query boundary
// consumed by the Applier's deposit and resolve handling (§6).
type ChainReader interface {
	// GetCode returns the bytecode at address on chainID. Used only by
	// collaborators, not by the core protocol engine (kept here for
	// interface completeness per §6).
	GetCode(ctx context.Context, address types.Address, chainID uint64) ([]byte, error)

	// GetLatestDepositByAssetID returns the latest deposit total the
	// chain has observed for assetID in channel, used to reconcile
	// ProcessedDepositsA/B during a "deposit" apply.
	GetLatestDepositByAssetID(ctx context.Context, channel types.Address, assetID types.Address, chainID uint64) (LatestDeposit, error)

	// Resolve invokes the transfer-definition semantics registered for
	// transferState.TransferDefinition with the given resolver payload,
	// returning the resulting payout balance.
	Resolve(ctx context.Context, transferState *types.CoreTransferState, resolver []byte, chainID uint64) (types.Balance, error)
}

// Store is the persistence boundary consumed by the Sync Engine (§6).
// SaveChannelState commits the channel and any inserted/removed transfer
// atomically — the "apply is atomic with the corresponding persistence
// write" guarantee from §5.
type Store interface {
	GetChannelState(ctx context.Context, channelAddress types.Address) (*types.FullChannelState, error)
	GetActiveTransfers(ctx context.Context, channelAddress types.Address) ([]*types.FullTransferState, error)

	// SaveChannelState persists state and applies transferChange (which
	// may be nil for a deposit/setup update that touches no transfer).
	SaveChannelState(ctx context.Context, state *types.FullChannelState, transferChange *TransferChange) error

	// GetLatestUpdate returns the most recent update this store has on
	// record in the given direction, used to answer StaleUpdate replies.
	// direction is either DirectionOutbound (our last proposal) or
	// DirectionInbound (the counterparty's last proposal to us).
	GetLatestUpdate(ctx context.Context, channelAddress types.Address, direction Direction) (*types.ChannelUpdate, error)
	SaveLatestUpdate(ctx context.Context, channelAddress types.Address, direction Direction, update *types.ChannelUpdate) error
}

// Direction distinguishes the two "most recent update" slots a replica
// keeps, one per direction, as required by §6's persisted state layout.
type Direction uint8

const (
	DirectionOutbound Direction = iota
	DirectionInbound
)

// TransferChangeKind tags what SaveChannelState's transfer side effect
// was, so a Store implementation can apply the matching insert/delete to
// its active-transfers index atomically with the channel write.
type TransferChangeKind uint8

const (
	TransferChangeNone TransferChangeKind = iota
	TransferChangeInsert
	TransferChangeRemove
)

// TransferChange describes the single transfer insert/remove a
// ChannelUpdate application produced, if any (§4.3: create inserts,
// resolve removes; setup/deposit touch no transfer).
type TransferChange struct {
	Kind  TransferChangeKind
	State *types.FullTransferState
}

// ExternalValidator is the optional hook consulted by the Validator
// (§4.4). A failure here is fatal for the current update but must never
// corrupt stored state.
type ExternalValidator interface {
	ValidateOutbound(ctx context.Context, update *types.ChannelUpdate, state *types.FullChannelState, activeTransfers []*types.FullTransferState) error
	ValidateInbound(ctx context.Context, update *types.ChannelUpdate, state *types.FullChannelState, activeTransfers []*types.FullTransferState) error
}

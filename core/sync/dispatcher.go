package sync

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/lightningnetwork/lnd/queue"
	"github.com/lightningnetwork/lnd/ticker"
	"golang.org/x/sync/semaphore"

	"github.com/paychan/channelcore/core/chanerr"
	"github.com/paychan/channelcore/core/types"
	"github.com/paychan/channelcore/core/validator"
)

// Dispatcher enforces §5's scheduling model: "at most one update at a
// time may be in flight from this side" per channel, while many channels
// make progress in parallel up to a configured fan-out limit. Each
// channel address gets its own lane, a ConcurrentQueue draining a single
// goroutine, the same backlog-absorbing shape htlcswitch uses to
// serialize link updates without blocking producers.
type Dispatcher struct {
	deps    Deps
	fanOut  *semaphore.Weighted

	mu    sync.Mutex
	lanes map[types.Address]*lane
}

// NewDispatcher builds a Dispatcher over deps, allowing at most
// maxConcurrent channels to have an update in flight simultaneously.
func NewDispatcher(deps Deps, maxConcurrent int64) *Dispatcher {
	return &Dispatcher{
		deps:   deps,
		fanOut: semaphore.NewWeighted(maxConcurrent),
		lanes:  make(map[types.Address]*lane),
	}
}

type job func()

type lane struct {
	q *queue.ConcurrentQueue
}

func newLane() *lane {
	q := queue.NewConcurrentQueue(20)
	q.Start()
	go func() {
		for item := range q.ChanOut() {
			item.(job)()
		}
	}()
	return &lane{q: q}
}

func (d *Dispatcher) laneFor(addr types.Address) *lane {
	d.mu.Lock()
	defer d.mu.Unlock()
	l, ok := d.lanes[addr]
	if !ok {
		l = newLane()
		d.lanes[addr] = l
	}
	return l
}

// Stop tears down every per-channel lane. Call once at shutdown; a
// Dispatcher is not usable afterward.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for addr, l := range d.lanes {
		l.q.Stop()
		delete(d.lanes, addr)
	}
}

type outboundOutcome struct {
	result *OutboundResult
	err    error
}

// Outbound serializes an Outbound call behind channelAddress's lane: if
// another update for the same channel is already in flight, this call
// waits its turn rather than racing applier.Apply against it.
func (d *Dispatcher) Outbound(ctx context.Context, channelAddress types.Address, params validator.OutboundParams, prevChannel *types.FullChannelState, activeTransfers []*types.FullTransferState) (*OutboundResult, error) {
	if err := d.fanOut.Acquire(ctx, 1); err != nil {
		return nil, chanerr.Wrapf(chanerr.KindCounterpartyFailure, err, "dispatcher: fan-out limit")
	}

	done := make(chan outboundOutcome, 1)
	d.laneFor(channelAddress).q.ChanIn() <- job(func() {
		defer d.fanOut.Release(1)
		result, err := Outbound(ctx, params, prevChannel, activeTransfers, d.deps)
		done <- outboundOutcome{result, err}
	})

	select {
	case out := <-done:
		return out.result, out.err
	case <-ctx.Done():
		return nil, chanerr.Wrapf(chanerr.KindCounterpartyFailure, ctx.Err(), "dispatcher: context canceled awaiting lane")
	}
}

type inboundOutcome struct {
	result *InboundResult
	err    error
}

// Inbound serializes an Inbound call behind channelAddress's lane, the
// same discipline Outbound gets, so a concurrent inbound and outbound
// proposal for one channel are never applied out of order.
func (d *Dispatcher) Inbound(ctx context.Context, channelAddress types.Address, update, prevUpdate *types.ChannelUpdate, channel *types.FullChannelState, activeTransfers []*types.FullTransferState) (*InboundResult, error) {
	if err := d.fanOut.Acquire(ctx, 1); err != nil {
		return nil, chanerr.Wrapf(chanerr.KindCounterpartyFailure, err, "dispatcher: fan-out limit")
	}

	done := make(chan inboundOutcome, 1)
	d.laneFor(channelAddress).q.ChanIn() <- job(func() {
		defer d.fanOut.Release(1)
		result, err := Inbound(ctx, update, prevUpdate, channel, activeTransfers, d.deps)
		done <- inboundOutcome{result, err}
	})

	select {
	case out := <-done:
		return out.result, out.err
	case <-ctx.Done():
		return nil, chanerr.Wrapf(chanerr.KindCounterpartyFailure, ctx.Err(), "dispatcher: context canceled awaiting lane")
	}
}

// OutboundWithRetry is the opt-in retry policy §7 leaves to the caller:
// "Retries are the caller's choice except for the one-shot sync path
// inside outbound". Only a CounterpartyFailure is retried, backing off on
// a ticker between attempts; any other error (including the fatal sync
// kinds) is returned immediately.
func (d *Dispatcher) OutboundWithRetry(ctx context.Context, channelAddress types.Address, params validator.OutboundParams, prevChannel *types.FullChannelState, activeTransfers []*types.FullTransferState, maxAttempts int, backoff time.Duration) (*OutboundResult, error) {
	t := ticker.New(backoff)
	t.Resume()
	defer t.Stop()

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		result, err := d.Outbound(ctx, channelAddress, params, prevChannel, activeTransfers)
		if err == nil {
			return result, nil
		}
		lastErr = err

		var ce *chanerr.CoreError
		if !errors.As(err, &ce) || !ce.Retriable() {
			return nil, err
		}

		select {
		case <-t.Ticks():
		case <-ctx.Done():
			return nil, chanerr.Wrapf(chanerr.KindCounterpartyFailure, ctx.Err(), "dispatcher: context canceled during retry backoff")
		}
	}
	return nil, lastErr
}

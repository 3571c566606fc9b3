package mst

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/Arjentix/iroha/crypto"
)

// CompletedHandler is the boundary to the ordering collaborator: it receives
// batches whose signature set reached completeness and became eligible for
// ordering. The storage layer never references it back.
type CompletedHandler interface {
	HandleCompleted(context.Context, *BatchState) error
}

// ExpiredHandler is notified about own batches dropped by an expiry sweep
// without ever completing.
type ExpiredHandler interface {
	HandleExpired(context.Context, *BatchState)
}

// Processor drives Storage on behalf of its collaborators: it signs and
// tracks locally originated batches, absorbs inbound peer states, produces
// outbound diffs and runs expiry sweeps, forwarding completed batches to the
// CompletedHandler.
type Processor struct {
	storage   *Storage
	signer    crypto.Signer
	completed CompletedHandler
	expired   ExpiredHandler

	log *slog.Logger
}

func NewProcessor(storage *Storage, signer crypto.Signer, completed CompletedHandler, log *slog.Logger) *Processor {
	if log == nil {
		log = slog.Default()
	}
	return &Processor{
		storage:   storage,
		signer:    signer,
		completed: completed,
		log:       log,
	}
}

// WithExpiredHandler attaches an optional handler for expired own batches.
func (p *Processor) WithExpiredHandler(h ExpiredHandler) *Processor {
	p.expired = h
	return p
}

// Submit signs the batch with the node's own key and merges it into the own
// state. A batch whose quorum is one completes immediately.
func (p *Processor) Submit(ctx context.Context, batch *Batch) error {
	sig, err := p.signer.Sign(batch.Hash())
	if err != nil {
		return fmt.Errorf("signing batch: %w", err)
	}

	bs := NewBatchState(batch, time.Now(), sig)
	upd := p.storage.UpdateOwnState(bs)
	return p.emitCompleted(ctx, upd)
}

// ApplyState merges an inbound peer state, updating both the tracked view of
// the sender and the own state. It reports whether the payload carried
// anything not already known; all-known payloads are absorbed without the
// full merge.
func (p *Processor) ApplyState(ctx context.Context, peerKey []byte, state *State) (bool, error) {
	if p.storage.WhatsNew(state).IsEmpty() {
		return false, nil
	}

	upd := p.storage.Apply(peerKey, state)
	if err := p.emitCompleted(ctx, upd); err != nil {
		return true, err
	}
	return true, nil
}

// DiffFor produces the outbound payload for the peer: everything we hold that
// the peer is not known to, minus anything already expired.
func (p *Processor) DiffFor(peerKey []byte, now time.Time) *State {
	return p.storage.GetDiffState(peerKey, now)
}

// SweepExpired drops stale batches from every tracked state, notifying the
// expired handler about own losses.
func (p *Processor) SweepExpired(ctx context.Context, now time.Time) {
	dropped := p.storage.ExtractExpiredTransactions(now)
	if dropped.IsEmpty() {
		return
	}

	p.log.InfoContext(ctx, "expired pending batches", "count", dropped.Len())
	if p.expired == nil {
		return
	}
	for _, bs := range dropped.Batches() {
		p.expired.HandleExpired(ctx, bs)
	}
}

// Pending reports whether the batch is still tracked as pending.
func (p *Processor) Pending(b *Batch) bool {
	return p.storage.BatchInStorage(b)
}

// Finalize purges all tracking of a committed transaction.
func (p *Processor) Finalize(txHash []byte) {
	p.storage.ProcessFinalizedTransaction(txHash)
}

// NewState mints an empty decode target bound to the storage's Completer.
func (p *Processor) NewState() *State {
	return p.storage.NewState()
}

func (p *Processor) emitCompleted(ctx context.Context, upd *StateUpdate) error {
	for _, bs := range upd.Completed {
		p.log.InfoContext(ctx, "batch reached quorum",
			"batch", hex.EncodeToString(bs.Batch.Hash()),
			"signatures", len(bs.Signatures))
		if err := p.completed.HandleCompleted(ctx, bs); err != nil {
			return fmt.Errorf("handing off completed batch: %w", err)
		}
	}
	return nil
}

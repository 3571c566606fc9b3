package mst

import (
	"log/slog"
	"sync"
	"time"
)

// DefaultTombstoneTTL bounds how long terminal batch identities are remembered
// to keep late gossip from resurrecting them as pending.
const DefaultTombstoneTTL = 10 * time.Minute

// Storage owns the node's authoritative state and one reconciliation point per
// peer. Every application of a peer's state is mirrored into the own state, so
// a tracked peer view never runs ahead of what this node has merged.
//
// Storage is safe for concurrent use: gossip delivery, local submission,
// finalization and expiry sweeps all serialize on one storage-wide lock. No
// operation does I/O under the lock.
type Storage struct {
	mu         sync.Mutex
	completer  Completer
	ownState   *State
	peerStates map[string]*State

	// terminal batch hashes (completed or finalized) mapped to when they
	// became terminal; entries outlive the batch by tombstoneTTL
	tombstones   map[string]time.Time
	tombstoneTTL time.Duration

	log *slog.Logger
}

// NewStorage constructs a Storage around a single Completer shared by the own
// state and every lazily created peer state.
func NewStorage(completer Completer, log *slog.Logger) *Storage {
	if log == nil {
		log = slog.Default()
	}
	return &Storage{
		completer:    completer,
		ownState:     EmptyState(completer, log),
		peerStates:   make(map[string]*State),
		tombstones:   make(map[string]time.Time),
		tombstoneTTL: DefaultTombstoneTTL,
		log:          log,
	}
}

// NewState mints an empty State bound to this storage's Completer, e.g. for
// decoding an inbound gossip payload.
func (s *Storage) NewState() *State {
	return EmptyState(s.completer, s.log)
}

// getState looks up the tracked state for the peer, inserting a fresh empty
// one on first reference. Callers must hold s.mu. The map index conversion
// keeps the common known-peer path allocation-free; the key string is only
// materialized on insert.
func (s *Storage) getState(peerKey []byte) *State {
	st, ok := s.peerStates[string(peerKey)]
	if !ok {
		st = EmptyState(s.completer, s.log)
		s.peerStates[string(peerKey)] = st
	}
	return st
}

// Apply merges newState into the tracked view of the peer and mirrors the
// same state into the own state, returning the own-state update with any
// newly completed batches. Batches already terminal within the tombstone
// window are dropped before merging, so duplicate or late delivery is a no-op
// beyond redundant union.
func (s *Storage) Apply(peerKey []byte, newState *State) *StateUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()

	newState = s.dropTombstoned(newState)
	s.getState(peerKey).Union(newState)

	upd := s.ownState.Union(newState)
	s.bury(upd.Completed)
	return upd
}

// UpdateOwnState adds a locally originated batch into the own state and
// returns the post-merge update.
func (s *Storage) UpdateOwnState(bs *BatchState) *StateUpdate {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tombstones[string(bs.Batch.Hash())]; ok {
		return &StateUpdate{State: s.ownState}
	}

	upd := s.ownState.Add(bs)
	s.bury(upd.Completed)
	return upd
}

// ExtractExpiredTransactions sweeps expiry from every tracked peer state and
// from the own state. Peer expirations are pruned silently for storage
// hygiene; the returned state holds only the batches expired from the own
// state. Stale tombstones are pruned on the same sweep.
func (s *Storage) ExtractExpiredTransactions(now time.Time) *State {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, st := range s.peerStates {
		st.EraseExpired(now)
	}
	for key, buriedAt := range s.tombstones {
		if buriedAt.Add(s.tombstoneTTL).Before(now) {
			delete(s.tombstones, key)
		}
	}
	return s.ownState.ExtractExpired(now)
}

// GetDiffState computes what the peer is missing: the own state minus the
// peer's last known view, with anything already expired as of now erased so
// outbound gossip never re-sends stale batches.
func (s *Storage) GetDiffState(peerKey []byte, now time.Time) *State {
	s.mu.Lock()
	defer s.mu.Unlock()

	diff := s.ownState.Difference(s.getState(peerKey))
	diff.EraseExpired(now)
	return diff
}

// WhatsNew returns the part of newState not already reflected in the own
// state, letting the receiving side skip merges of all-known payloads.
func (s *Storage) WhatsNew(newState *State) *State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return newState.Difference(s.ownState)
}

// BatchInStorage reports containment against the own state only.
func (s *Storage) BatchInStorage(b *Batch) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.ownState.Contains(b)
}

// ProcessFinalizedTransaction removes any batch containing the finalized
// transaction from every peer state and from the own state, tombstoning the
// removed batch identities.
func (s *Storage) ProcessFinalizedTransaction(txHash []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, st := range s.peerStates {
		st.EraseByTransactionHash(txHash)
	}
	s.bury(s.ownState.EraseByTransactionHash(txHash))
}

// bury records terminal batch identities. Callers must hold s.mu.
func (s *Storage) bury(batches []*BatchState) {
	if len(batches) == 0 {
		return
	}
	now := time.Now()
	for _, bs := range batches {
		s.tombstones[string(bs.Batch.Hash())] = now
	}
}

// dropTombstoned filters terminal batches out of an inbound state. The input
// is returned untouched when nothing matches. Callers must hold s.mu.
func (s *Storage) dropTombstoned(newState *State) *State {
	buried := false
	for key := range newState.batches {
		if _, ok := s.tombstones[key]; ok {
			buried = true
			break
		}
	}
	if !buried {
		return newState
	}

	filtered := EmptyState(s.completer, s.log)
	for key, bs := range newState.batches {
		if _, ok := s.tombstones[key]; !ok {
			filtered.batches[key] = bs
		}
	}
	return filtered
}

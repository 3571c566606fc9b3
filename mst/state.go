package mst

import (
	"encoding/hex"
	"log/slog"
	"time"
)

// State is one replica's view of pending batches, either our own or the last
// known view of some peer. It is a plain container: thread-safety is the
// concern of Storage, merge policy is the concern of the injected Completer.
type State struct {
	completer Completer
	batches   map[string]*BatchState

	log *slog.Logger
}

// StateUpdate is the outcome of merging into a State: the post-merge state
// itself and the batches whose signature set reached completeness during the
// merge. Completed batches are extracted from the state and never linger in it.
type StateUpdate struct {
	State     *State
	Completed []*BatchState
}

// HasCompleted reports whether the merge completed at least one batch.
func (u *StateUpdate) HasCompleted() bool {
	return len(u.Completed) > 0
}

// EmptyState constructs a zero-entry state bound to the given Completer.
func EmptyState(completer Completer, log *slog.Logger) *State {
	if log == nil {
		log = slog.Default()
	}
	return &State{
		completer: completer,
		batches:   make(map[string]*BatchState),
		log:       log,
	}
}

// Add merges a single batch state into s. Equivalent to a union with a
// one-entry state.
func (s *State) Add(bs *BatchState) *StateUpdate {
	upd := &StateUpdate{State: s}
	s.insertOne(bs, upd)
	return upd
}

// Union merges other into s entry by entry: signature sets combine as set
// union, creation times keep the earliest value. Batches whose merged
// signature set is complete are removed from s and reported through the
// update, as completed batches leave MST tracking. The receiver is mutated in
// place and returned inside the update so call sites can chain on the
// post-merge state. Union is commutative, associative and idempotent with
// respect to the resulting entry set.
func (s *State) Union(other *State) *StateUpdate {
	upd := &StateUpdate{State: s}
	if other == nil {
		return upd
	}
	for _, bs := range other.batches {
		s.insertOne(bs, upd)
	}
	return upd
}

func (s *State) insertOne(bs *BatchState, upd *StateUpdate) {
	key := string(bs.Batch.Hash())
	existing, ok := s.batches[key]
	if !ok {
		// deep copy: the signature set must not be shared across replicas
		existing = bs.clone()
		s.batches[key] = existing
	} else {
		if bs.CreatedAt.Before(existing.CreatedAt) {
			existing.CreatedAt = bs.CreatedAt
		}
		s.completer.MergeSignatures(existing, bs)
	}

	if s.completer.IsComplete(existing) {
		delete(s.batches, key)
		upd.Completed = append(upd.Completed, existing)
		s.log.Debug("batch completed",
			"batch", hex.EncodeToString(existing.Batch.Hash()),
			"signatures", len(existing.Signatures))
	}
}

// Difference returns a new State containing, for each batch present in s,
// only the signatures not already present in other for that batch. Batches
// fully subsumed by other are omitted. This computes exactly what needs to be
// sent to a peer known to already hold other.
func (s *State) Difference(other *State) *State {
	diff := EmptyState(s.completer, s.log)
	for key, bs := range s.batches {
		theirs, ok := other.batches[key]
		if !ok {
			diff.batches[key] = bs.clone()
			continue
		}

		missing := &BatchState{Batch: bs.Batch, CreatedAt: bs.CreatedAt}
		for _, sig := range bs.Signatures {
			if !theirs.HasSigner(sig.Signer) {
				missing.Signatures = append(missing.Signatures, sig)
			}
		}
		if len(missing.Signatures) > 0 {
			diff.batches[key] = missing
		}
	}
	return diff
}

// Contains reports exact containment by batch identity, regardless of
// signature content.
func (s *State) Contains(b *Batch) bool {
	_, ok := s.batches[string(b.Hash())]
	return ok
}

// ExtractExpired removes every entry the Completer deems expired as of now
// and returns the removed entries as a new State. Calling it again with a
// later now only removes what newly qualifies.
func (s *State) ExtractExpired(now time.Time) *State {
	expired := EmptyState(s.completer, s.log)
	for key, bs := range s.batches {
		if s.completer.IsExpired(bs, now) {
			expired.batches[key] = bs
			delete(s.batches, key)
		}
	}
	return expired
}

// EraseExpired removes expired entries, discarding them.
func (s *State) EraseExpired(now time.Time) {
	for key, bs := range s.batches {
		if s.completer.IsExpired(bs, now) {
			delete(s.batches, key)
		}
	}
}

// EraseByTransactionHash removes every batch whose transaction set includes a
// transaction with the given hash and returns the removed entries. A no-op
// if no such batch is tracked.
func (s *State) EraseByTransactionHash(hash []byte) []*BatchState {
	var erased []*BatchState
	for key, bs := range s.batches {
		if bs.Batch.ContainsTransaction(hash) {
			erased = append(erased, bs)
			delete(s.batches, key)
		}
	}
	return erased
}

// Batches lists the tracked batch states in no particular order.
func (s *State) Batches() []*BatchState {
	out := make([]*BatchState, 0, len(s.batches))
	for _, bs := range s.batches {
		out = append(out, bs)
	}
	return out
}

func (s *State) Len() int {
	return len(s.batches)
}

func (s *State) IsEmpty() bool {
	return len(s.batches) == 0
}

// get returns the tracked state for the batch hash, if any.
func (s *State) get(hash []byte) (*BatchState, bool) {
	bs, ok := s.batches[string(hash)]
	return bs, ok
}

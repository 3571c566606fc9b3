package mst

import (
	"time"
)

// Completer decides when a batch's signature set is sufficient for ordering,
// when a pending batch is stale, and how two signature sets for the same batch
// combine. A single Completer instance is shared by every State within one
// Storage so the policy stays consistent across own and peer views.
type Completer interface {
	// IsComplete reports whether the batch collected enough signatures
	// to leave MST tracking and proceed to ordering.
	IsComplete(*BatchState) bool
	// IsExpired reports whether the batch is stale as of now.
	IsExpired(bs *BatchState, now time.Time) bool
	// MergeSignatures absorbs signatures of from into into.
	// Signature sets combine as a set union keyed by signer.
	MergeSignatures(into, from *BatchState)
}

type quorumCompleter struct {
	quorum int
	ttl    time.Duration
}

// NewQuorumCompleter returns a Completer with a fixed signature quorum and a
// time-to-live after which an incomplete batch is considered expired.
func NewQuorumCompleter(quorum int, ttl time.Duration) Completer {
	return &quorumCompleter{quorum: quorum, ttl: ttl}
}

func (c *quorumCompleter) IsComplete(bs *BatchState) bool {
	return len(bs.Signatures) >= c.quorum
}

func (c *quorumCompleter) IsExpired(bs *BatchState, now time.Time) bool {
	return bs.CreatedAt.Add(c.ttl).Before(now)
}

func (c *quorumCompleter) MergeSignatures(into, from *BatchState) {
	for _, sig := range from.Signatures {
		into.AddSignature(sig)
	}
}

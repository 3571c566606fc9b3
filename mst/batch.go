// Package mst implements storage and reconciliation of multi-signature
// transaction batches. A batch requires signatures from several parties before
// it becomes eligible for ordering, and peers collect signatures independently,
// exchanging partial knowledge through pairwise state diffs.
package mst

import (
	"bytes"
	"crypto/sha256"
	"time"

	"github.com/Arjentix/iroha/crypto"
)

// Transaction is a single transaction carried inside a Batch.
type Transaction struct {
	Payload []byte
}

func (t *Transaction) Hash() []byte {
	h := sha256.New()
	h.Write(t.Payload)
	return h.Sum(nil)
}

// Batch is a group of transactions submitted together, sharing a collective
// signature requirement. Its identity is the hash over member transaction hashes.
type Batch struct {
	Txs []*Transaction
}

func NewBatch(txs ...*Transaction) *Batch {
	return &Batch{Txs: txs}
}

func (b *Batch) Hash() []byte {
	h := sha256.New()
	for _, tx := range b.Txs {
		h.Write(tx.Hash())
	}
	return h.Sum(nil)
}

// ContainsTransaction reports whether any member transaction has the given hash.
func (b *Batch) ContainsTransaction(hash []byte) bool {
	for _, tx := range b.Txs {
		if bytes.Equal(tx.Hash(), hash) {
			return true
		}
	}
	return false
}

// BatchState is one pending batch together with the signatures known so far
// and its creation time used for expiry. Signatures are unique per signer and
// only ever grow under merge within one replica.
type BatchState struct {
	Batch      *Batch
	Signatures []crypto.Signature
	CreatedAt  time.Time
}

func NewBatchState(batch *Batch, createdAt time.Time, sigs ...crypto.Signature) *BatchState {
	bs := &BatchState{
		Batch:     batch,
		CreatedAt: createdAt,
	}
	for _, sig := range sigs {
		bs.AddSignature(sig)
	}
	return bs
}

// HasSigner reports whether a signature from the given signer is already attached.
func (bs *BatchState) HasSigner(signer []byte) bool {
	for _, sig := range bs.Signatures {
		if bytes.Equal(sig.Signer, signer) {
			return true
		}
	}
	return false
}

// AddSignature attaches the signature unless one from the same signer is
// already present. Reports whether the signature was added.
func (bs *BatchState) AddSignature(sig crypto.Signature) bool {
	if bs.HasSigner(sig.Signer) {
		return false
	}
	bs.Signatures = append(bs.Signatures, sig)
	return true
}

// clone makes a copy whose signature set is independent of the original.
// The Batch itself is immutable and shared.
func (bs *BatchState) clone() *BatchState {
	sigs := make([]crypto.Signature, len(bs.Signatures))
	copy(sigs, bs.Signatures)
	return &BatchState{
		Batch:      bs.Batch,
		Signatures: sigs,
		CreatedAt:  bs.CreatedAt,
	}
}

package mst

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Arjentix/iroha/crypto"
	"github.com/Arjentix/iroha/crypto/ed25519"
	"github.com/Arjentix/iroha/crypto/local"
)

type completedRecorder struct {
	mu      sync.Mutex
	batches []*BatchState
}

func (r *completedRecorder) HandleCompleted(_ context.Context, bs *BatchState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batches = append(r.batches, bs)
	return nil
}

func (r *completedRecorder) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.batches)
}

type expiredRecorder struct {
	batches []*BatchState
}

func (r *expiredRecorder) HandleExpired(_ context.Context, bs *BatchState) {
	r.batches = append(r.batches, bs)
}

func newTestProcessor(t *testing.T, quorum int) (*Processor, *completedRecorder) {
	t.Helper()

	_, privKey, err := ed25519.GenKeys()
	require.NoError(t, err)
	signer, err := local.NewSigner(privKey)
	require.NoError(t, err)

	recorder := &completedRecorder{}
	storage := NewStorage(NewQuorumCompleter(quorum, time.Minute), nil)
	return NewProcessor(storage, signer, recorder, nil), recorder
}

func TestProcessorSubmitTracksPending(t *testing.T) {
	proc, recorder := newTestProcessor(t, 2)
	batch := testBatch("tx1")

	require.NoError(t, proc.Submit(context.Background(), batch))
	assert.True(t, proc.Pending(batch))
	require.Zero(t, recorder.len())
}

func TestProcessorSubmitCompletesSingleQuorum(t *testing.T) {
	proc, recorder := newTestProcessor(t, 1)
	batch := testBatch("tx1")

	require.NoError(t, proc.Submit(context.Background(), batch))
	assert.False(t, proc.Pending(batch))
	require.Equal(t, 1, recorder.len())
}

func TestProcessorApplyState(t *testing.T) {
	ctx := context.Background()
	proc, recorder := newTestProcessor(t, 2)
	batch := testBatch("tx1")

	require.NoError(t, proc.Submit(ctx, batch))

	payload := func() *State {
		return testState(proc.storage.completer,
			NewBatchState(batch, testCreatedAt, testSig("bob")))
	}

	isNew, err := proc.ApplyState(ctx, peerKey, payload())
	require.NoError(t, err)
	require.True(t, isNew)
	require.Equal(t, 1, recorder.len())
	assert.False(t, proc.Pending(batch))

	// duplicate delivery carries nothing new
	isNew, err = proc.ApplyState(ctx, peerKey, payload())
	require.NoError(t, err)
	require.False(t, isNew)
	require.Equal(t, 1, recorder.len())
}

func TestProcessorCompletedSignatureSet(t *testing.T) {
	ctx := context.Background()
	proc, recorder := newTestProcessor(t, 2)
	batch := testBatch("tx1")

	require.NoError(t, proc.Submit(ctx, batch))
	_, err := proc.ApplyState(ctx, peerKey, testState(proc.storage.completer,
		NewBatchState(batch, testCreatedAt, testSig("bob"))))
	require.NoError(t, err)

	require.Equal(t, 1, recorder.len())
	completed := recorder.batches[0]
	require.Len(t, completed.Signatures, 2)
	assert.True(t, completed.HasSigner(proc.signer.ID()))
	assert.True(t, completed.HasSigner([]byte("bob")))
}

func TestProcessorSweepExpired(t *testing.T) {
	ctx := context.Background()
	proc, _ := newTestProcessor(t, 2)
	expired := &expiredRecorder{}
	proc.WithExpiredHandler(expired)

	batch := testBatch("tx1")
	require.NoError(t, proc.Submit(ctx, batch))

	proc.SweepExpired(ctx, time.Now().Add(time.Hour))

	assert.False(t, proc.Pending(batch))
	require.Len(t, expired.batches, 1)
	require.Equal(t, batch.Hash(), expired.batches[0].Batch.Hash())
}

func TestProcessorFinalize(t *testing.T) {
	ctx := context.Background()
	proc, _ := newTestProcessor(t, 2)

	tx := testTx("tx1")
	batch := NewBatch(tx)
	require.NoError(t, proc.Submit(ctx, batch))

	proc.Finalize(tx.Hash())
	assert.False(t, proc.Pending(batch))
}

var _ crypto.Signer = (*local.Signer)(nil)

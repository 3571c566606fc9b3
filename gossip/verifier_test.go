package gossip

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Arjentix/iroha/crypto"
	"github.com/Arjentix/iroha/crypto/ed25519"
	"github.com/Arjentix/iroha/mst"
)

func TestSignatureVerifier(t *testing.T) {
	ctx := context.Background()
	verifier := NewSignatureVerifier()
	storage := mst.NewStorage(mst.NewQuorumCompleter(3, time.Hour), nil)

	pubKey, privKey, err := ed25519.GenKeys()
	require.NoError(t, err)

	batch := mst.NewBatch(&mst.Transaction{Payload: []byte("tx1")})
	sigBody, err := privKey.Sign(batch.Hash())
	require.NoError(t, err)

	valid := stateOf(t, storage, mst.NewBatchState(batch, time.Now(),
		crypto.Signature{Body: sigBody, Signer: pubKey}))
	require.NoError(t, verifier.Verify(ctx, valid))

	forged := stateOf(t, storage, mst.NewBatchState(batch, time.Now(),
		crypto.Signature{Body: []byte("not a signature"), Signer: pubKey}))
	require.Error(t, verifier.Verify(ctx, forged))

	badKey := stateOf(t, storage, mst.NewBatchState(batch, time.Now(),
		crypto.Signature{Body: sigBody, Signer: []byte("short")}))
	require.Error(t, verifier.Verify(ctx, badKey))
}

// stateOf round-trips batch states through the wire codec, the only way an
// outside package assembles a State.
func stateOf(t *testing.T, storage *mst.Storage, bss ...*mst.BatchState) *mst.State {
	t.Helper()

	tmp := mst.NewStorage(mst.NewQuorumCompleter(1000, time.Hour), nil)
	for _, bs := range bss {
		tmp.UpdateOwnState(bs)
	}
	data, err := tmp.GetDiffState([]byte("nobody"), time.Time{}).MarshalBinary()
	require.NoError(t, err)

	state := storage.NewState()
	require.NoError(t, state.UnmarshalBinary(data))
	return state
}

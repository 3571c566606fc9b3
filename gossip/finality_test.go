package gossip

import (
	"context"
	"testing"
	"time"

	pubsub "github.com/libp2p/go-libp2p-pubsub"
	mocknet "github.com/libp2p/go-libp2p/p2p/net/mock"
	"github.com/stretchr/testify/require"

	"github.com/Arjentix/iroha/mst"
)

func TestFinalityPurgesFinalizedTransactions(t *testing.T) {
	const nodeCount = 2

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	t.Cleanup(cancel)

	net, err := mocknet.FullMeshConnected(nodeCount)
	require.NoError(t, err)

	nodes := make([]*node, nodeCount)
	fins := make([]*Finality, nodeCount)
	for i := range nodeCount {
		nodes[i] = newNode(t, net.Hosts()[i], 5)

		ps, err := pubsub.NewFloodSub(ctx, net.Hosts()[i])
		require.NoError(t, err)

		fins[i] = NewFinality("test", nodes[i].proc, ps)
		require.NoError(t, fins[i].Start())
		t.Cleanup(func() { fins[i].Stop() }) //nolint: errcheck
	}

	tx := &mst.Transaction{Payload: []byte("tx1")}
	batch := mst.NewBatch(tx)
	require.NoError(t, nodes[1].proc.Submit(ctx, batch))
	require.True(t, nodes[1].proc.Pending(batch))

	// give floodsub a moment to form the mesh before announcing
	time.Sleep(time.Millisecond * 100)

	require.NoError(t, fins[0].Announce(ctx, [][]byte{tx.Hash()}))

	require.Eventually(t, func() bool {
		return !nodes[1].proc.Pending(batch)
	}, time.Second*5, time.Millisecond*50)
}

package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	libp2pcrypto "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/multiformats/go-multiaddr"

	"github.com/Arjentix/iroha/crypto/ed25519"
	"github.com/Arjentix/iroha/crypto/local"
	"github.com/Arjentix/iroha/gossip"
	"github.com/Arjentix/iroha/mst"
)

var (
	networkID    string
	listenAddr   string
	peerAddrs    string
	quorum       int
	ttl          time.Duration
	syncInterval time.Duration
	batchSize    int
	batchTime    time.Duration
)

func init() {
	flag.StringVar(&networkID, "network-id", "mst-devnet", "Network identifier")
	flag.StringVar(&listenAddr, "listen", "/ip4/0.0.0.0/udp/10000/quic-v1",
		"Multiaddr to listen on",
	)
	flag.StringVar(&peerAddrs, "peers", "",
		"Comma-separated multiaddrs of peers to connect to",
	)
	flag.IntVar(&quorum, "quorum", 2, "Signatures required for a batch to complete")
	flag.DurationVar(&ttl, "ttl", time.Minute*5, "Time-to-live of an incomplete batch")
	flag.DurationVar(&syncInterval, "sync-interval", time.Second, "State exchange period")
	flag.IntVar(&batchSize, "batch-size", 256,
		"Batch size produced every 'batch-time' (bytes). 0 disables batch production",
	)
	flag.DurationVar(&batchTime, "batch-time", time.Second*3, "Batch production period")
	flag.Parse()

	slog.SetLogLoggerLevel(slog.LevelDebug)
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	err := run(ctx)
	if err != nil {
		fmt.Println(err)
		defer os.Exit(1)
		return
	}
}

func run(ctx context.Context) error {
	p2pKey, privKey, err := genIdentity()
	if err != nil {
		return err
	}

	signer, err := local.NewSigner(privKey)
	if err != nil {
		return err
	}

	listenMAddr, err := multiaddr.NewMultiaddr(listenAddr)
	if err != nil {
		return fmt.Errorf("wrong listen multiaddr: %w", err)
	}

	host, err := libp2p.New(
		libp2p.Identity(p2pKey),
		libp2p.ListenAddrs(listenMAddr),
		libp2p.ResourceManager(&network.NullResourceManager{}),
	)
	if err != nil {
		return err
	}
	defer host.Close()

	addrs, err := peer.AddrInfoToP2pAddrs(&peer.AddrInfo{ID: host.ID(), Addrs: host.Addrs()})
	if err != nil {
		return err
	}

	fmt.Println("The p2p host is listening on:")
	for _, addr := range addrs {
		fmt.Println("* ", addr.String())
	}
	fmt.Println()

	if peerAddrs != "" {
		for _, s := range strings.Split(peerAddrs, ",") {
			maddr, err := multiaddr.NewMultiaddr(strings.TrimSpace(s))
			if err != nil {
				return fmt.Errorf("wrong peer multiaddr: %w", err)
			}
			addrInfo, err := peer.AddrInfoFromP2pAddr(maddr)
			if err != nil {
				return err
			}
			if err = host.Connect(ctx, *addrInfo); err != nil {
				return fmt.Errorf("connecting to %s: %w", addrInfo.ID, err)
			}
		}
	}

	pSub, err := pubsub.NewFloodSub(ctx, host)
	if err != nil {
		return err
	}

	ordering := &loggingOrdering{log: slog.Default()}
	storage := mst.NewStorage(mst.NewQuorumCompleter(quorum, ttl), slog.Default())
	proc := mst.NewProcessor(storage, signer, ordering, slog.Default())

	finality := gossip.NewFinality(networkID, proc, pSub)
	if err = finality.Start(); err != nil {
		return err
	}
	defer finality.Stop() //nolint: errcheck
	ordering.finality = finality

	svc := gossip.NewService(proc, host, host.Network().Peers, gossip.NewSignatureVerifier(), syncInterval)
	svc.Start()
	defer svc.Stop()

	if batchSize == 0 {
		<-ctx.Done()
		return ctx.Err()
	}
	return produceBatches(ctx, proc)
}

// loggingOrdering is a stand-in for the ordering service: it immediately
// treats every completed batch as committed and announces finality for it.
type loggingOrdering struct {
	finality *gossip.Finality
	log      *slog.Logger
}

func (o *loggingOrdering) HandleCompleted(ctx context.Context, bs *mst.BatchState) error {
	o.log.InfoContext(ctx, "batch completed",
		"batch", hex.EncodeToString(bs.Batch.Hash()),
		"signatures", len(bs.Signatures))

	hashes := make([][]byte, 0, len(bs.Batch.Txs))
	for _, tx := range bs.Batch.Txs {
		hashes = append(hashes, tx.Hash())
	}
	return o.finality.Announce(ctx, hashes)
}

func produceBatches(ctx context.Context, proc *mst.Processor) error {
	ticker := time.NewTicker(batchTime)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			payload := make([]byte, batchSize)
			rand.Read(payload) //nolint: errcheck

			batch := mst.NewBatch(&mst.Transaction{Payload: payload})
			if err := proc.Submit(ctx, batch); err != nil {
				return err
			}
			slog.DebugContext(ctx, "submitted batch", "batch", hex.EncodeToString(batch.Hash()))
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func genIdentity() (libp2pcrypto.PrivKey, ed25519.PrivateKey, error) {
	p2pKey, _, err := libp2pcrypto.GenerateEd25519Key(rand.Reader)
	if err != nil {
		return nil, nil, err
	}

	keyRaw, err := p2pKey.Raw()
	if err != nil {
		return nil, nil, err
	}
	key := ed25519.PrivateKey(keyRaw)

	slog.Info("identity", "key", hex.EncodeToString(key.PubKey().Bytes()))
	return p2pKey, key, nil
}

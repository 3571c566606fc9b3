// Package gossip propagates MST state between peers: a periodic anti-entropy
// loop streams per-peer diffs over libp2p and absorbs states received the
// same way. Which peers to talk to is supplied by the caller; the package
// never decides membership.
package gossip

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"golang.org/x/sync/errgroup"

	"github.com/Arjentix/iroha/mst"
)

var defaultProtocolID = protocol.ID("/mst/sync/v0.0.1")

// PeersFn supplies the peers to exchange state with on each sync round.
type PeersFn func() []peer.ID

// StateVerifier checks an inbound state before it is merged. Structural and
// cryptographic checks belong here; completeness does not.
type StateVerifier interface {
	Verify(context.Context, *mst.State) error
}

// Service runs the pairwise MST state exchange. Outbound payloads are minimal
// diffs against each peer's last known view; inbound payloads are verified
// and merged, keyed by the remote peer identity.
type Service struct {
	proc     *mst.Processor
	host     host.Host
	peers    PeersFn
	verifier StateVerifier

	protocolID protocol.ID
	interval   time.Duration
	clock      clock.Clock

	ctx    context.Context
	cancel context.CancelFunc
	doneCh chan struct{}

	log *slog.Logger
}

func NewService(proc *mst.Processor, host host.Host, peers PeersFn, verifier StateVerifier, interval time.Duration) *Service {
	return &Service{
		proc:       proc,
		host:       host,
		peers:      peers,
		verifier:   verifier,
		protocolID: defaultProtocolID,
		interval:   interval,
		clock:      clock.New(),
	}
}

// WithClock replaces the wall clock, letting tests drive sync rounds.
func (s *Service) WithClock(c clock.Clock) *Service {
	s.clock = c
	return s
}

func (s *Service) Start() {
	if s.log == nil {
		s.log = slog.Default()
	}

	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.doneCh = make(chan struct{})

	s.host.SetStreamHandler(s.protocolID, func(stream network.Stream) {
		if err := s.rcvState(stream); err != nil {
			s.log.Error("receiving state", "peer", stream.Conn().RemotePeer(), "err", err)
		}
	})
	go s.syncLoop()
}

func (s *Service) Stop() {
	s.host.RemoveStreamHandler(s.protocolID)
	s.cancel()
	<-s.doneCh
}

func (s *Service) syncLoop() {
	defer close(s.doneCh)

	ticker := s.clock.Ticker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := s.syncRound(s.ctx); err != nil {
				s.log.Error("sync round", "err", err)
			}
			s.proc.SweepExpired(s.ctx, s.clock.Now())
		case <-s.ctx.Done():
			return
		}
	}
}

// syncRound sends each peer exactly what it is missing. Peers with nothing
// missing are skipped.
func (s *Service) syncRound(ctx context.Context) error {
	wg, ctx := errgroup.WithContext(ctx)
	for _, p := range s.peers() {
		p := p
		wg.Go(func() error {
			if err := s.sendDiff(ctx, p); err != nil {
				s.log.ErrorContext(ctx, "sending state diff", "peer", p, "err", err)
			}
			// a failed peer must not abort the whole round
			return nil
		})
	}
	return wg.Wait()
}

func (s *Service) sendDiff(ctx context.Context, to peer.ID) error {
	diff := s.proc.DiffFor([]byte(to), s.clock.Now())
	if diff.IsEmpty() {
		return nil
	}

	data, err := diff.MarshalBinary()
	if err != nil {
		return fmt.Errorf("marshalling state diff: %w", err)
	}

	stream, err := s.host.NewStream(ctx, to, s.protocolID)
	if err != nil {
		return fmt.Errorf("failed to open stream: %w", err)
	}
	defer stream.Close()

	if dl, ok := ctx.Deadline(); ok {
		if err = stream.SetDeadline(dl); err != nil {
			s.log.WarnContext(ctx, "error setting deadline", "err", err)
		}
	}

	if _, err = stream.Write(data); err != nil {
		return fmt.Errorf("writing state diff to stream: %w", err)
	}
	if err = stream.CloseWrite(); err != nil {
		return err
	}
	// await ack from the other side
	if _, err = stream.Read(nil); err != nil && err != io.EOF {
		return fmt.Errorf("awaiting acknowledgement: %w", err)
	}

	return nil
}

func (s *Service) rcvState(stream network.Stream) error {
	data, err := io.ReadAll(stream)
	if err != nil {
		return fmt.Errorf("reading state: %w", err)
	}
	// ack the other side that we are done by closing the stream
	if err = stream.Close(); err != nil {
		return fmt.Errorf("closing stream: %w", err)
	}

	state := s.proc.NewState()
	if err = state.UnmarshalBinary(data); err != nil {
		return err
	}

	ctx := s.ctx
	if err = s.verifier.Verify(ctx, state); err != nil {
		return fmt.Errorf("verifying state: %w", err)
	}

	sender := stream.Conn().RemotePeer()
	isNew, err := s.proc.ApplyState(ctx, []byte(sender), state)
	if err != nil {
		return fmt.Errorf("applying state: %w", err)
	}
	if isNew {
		s.log.DebugContext(ctx, "merged peer state", "peer", sender, "batches", state.Len())
	}
	return nil
}

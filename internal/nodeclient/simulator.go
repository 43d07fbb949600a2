package nodeclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/danmuck/nodehub/internal/protocol/frame"
	"github.com/danmuck/nodehub/internal/retry"
)

// SimulatorConfig drives a simulated node: register, list the fleet once, then
// send a tick to TargetID every Interval while logging whatever arrives.
type SimulatorConfig struct {
	Client   Config
	TargetID uint32
	Interval time.Duration
	// OnFrame, when set, sees every frame the node receives.
	OnFrame func(frame.Frame)
}

type Simulator struct {
	cfg    SimulatorConfig
	client *Client
}

func NewSimulator(cfg SimulatorConfig) (*Simulator, error) {
	client, err := New(cfg.Client)
	if err != nil {
		return nil, err
	}
	return &Simulator{cfg: cfg, client: client}, nil
}

// Run keeps one registered session alive until ctx is done, reconnecting after
// the hub drops it.
func (s *Simulator) Run(ctx context.Context) error {
	attempt := 0
	for {
		err := s.runSession(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, ErrRegistrationRejected) {
			return err
		}
		attempt++
		delay := retry.NextDelay(s.client.cfg.Backoff, attempt, s.client.rng)
		s.client.log.Warn().Err(err).Dur("retry_in", delay).Msg("session ended")
		if err := retry.Sleep(ctx, delay); err != nil {
			return err
		}
	}
}

func (s *Simulator) runSession(ctx context.Context) error {
	sess, err := s.client.ConnectAndRegister(ctx)
	if err != nil {
		return err
	}
	defer sess.Close()

	nodes, err := sess.ListNodes(ctx)
	if err != nil {
		return err
	}
	for _, n := range nodes {
		s.client.log.Info().
			Uint32("node_id", n.NodeID).
			Str("name", n.Name).
			Str("node_type", n.NodeType).
			Msg("connected node")
	}

	sctx, cancel := context.WithCancel(ctx)
	defer cancel()
	recvErr := make(chan error, 1)
	go func() {
		recvErr <- s.receive(sctx, sess)
	}()

	var tick <-chan time.Time
	if s.cfg.TargetID != 0 && s.cfg.Interval > 0 {
		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()
		tick = ticker.C
	}
	seq := 0
	for {
		select {
		case <-ctx.Done():
			_ = sess.Close()
			<-recvErr
			return ctx.Err()
		case err := <-recvErr:
			return err
		case <-tick:
			seq++
			payload := []byte(fmt.Sprintf("tick %d from %s", seq, s.cfg.Client.Register.Name))
			if err := sess.Send(ctx, s.cfg.TargetID, payload); err != nil {
				_ = sess.Close()
				<-recvErr
				return err
			}
		}
	}
}

func (s *Simulator) receive(ctx context.Context, sess *Session) error {
	for {
		f, err := sess.Recv(ctx)
		if err != nil {
			return err
		}
		s.client.log.Debug().
			Uint32("src", f.SourceID).
			Int("payload_len", len(f.Payload)).
			Msg("frame received")
		if s.cfg.OnFrame != nil {
			s.cfg.OnFrame(f)
		}
	}
}

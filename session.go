package framesync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

const DefaultCapacity = 30

type StreamConfig struct {
	Name     string
	Producer Producer
}

type SessionConfig struct {
	// Capacity is the queue capacity of each stream. Defaults to
	// DefaultCapacity if zero.
	Capacity int
	MaxGap   int64
	Policy   PairingPolicy

	Primary   StreamConfig
	Secondary StreamConfig

	Writer PairWriter
	Events EventHandler
	Logger *slog.Logger
}

type SessionStats struct {
	Primary   QueueStats `json:"primary"`
	Secondary QueueStats `json:"secondary"`
	Sync      SyncStats  `json:"sync"`
}

// Session wires two feeders and a synchronizer.
type Session struct {
	primary   *Queue
	secondary *Queue

	feeders   [2]*Feeder
	producers [2]Producer
	sync      *Synchronizer
	writer    PairWriter
	logger    *slog.Logger
}

func NewSession(c SessionConfig) (*Session, error) {
	if c.Capacity == 0 {
		c.Capacity = DefaultCapacity
	}
	if c.MaxGap < 0 {
		return nil, fmt.Errorf("invalid max gap: %d", c.MaxGap)
	}
	if c.Primary.Producer == nil || c.Secondary.Producer == nil {
		return nil, errors.New("session requires two producers")
	}
	if c.Writer == nil {
		return nil, errors.New("session requires a pair writer")
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Primary.Name == "" {
		c.Primary.Name = "primary"
	}
	if c.Secondary.Name == "" {
		c.Secondary.Name = "secondary"
	}

	primary, err := NewQueue(c.Capacity)
	if err != nil {
		return nil, err
	}
	secondary, err := NewQueue(c.Capacity)
	if err != nil {
		return nil, err
	}

	s := &Session{
		primary:   primary,
		secondary: secondary,
		feeders: [2]*Feeder{
			NewFeeder(c.Primary.Name, c.Primary.Producer, primary, c.Logger),
			NewFeeder(c.Secondary.Name, c.Secondary.Producer, secondary, c.Logger),
		},
		producers: [2]Producer{c.Primary.Producer, c.Secondary.Producer},
		sync: NewSynchronizer(primary, secondary,
			MaxGap(c.MaxGap),
			Policy(c.Policy),
			Events(c.Events),
			Logger(c.Logger),
		),
		writer: c.Writer,
		logger: c.Logger,
	}
	return s, nil
}

// Run blocks until the primary stream is exhausted, the writer fails or ctx
// is cancelled. Producer failures are logged and never abort the session.
func (s *Session) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	for _, f := range s.feeders {
		g.Go(func() error {
			if err := f.Run(gctx); err != nil {
				s.logger.Warn("feeder stopped", "error", err)
			}
			return nil
		})
	}
	g.Go(func() error {
		// feeders of live streams only return once their context ends
		defer cancel()
		return s.sync.Run(gctx, s.writer)
	})
	err := g.Wait()

	for _, p := range s.producers {
		if c, ok := p.(io.Closer); ok {
			if cerr := c.Close(); cerr != nil {
				s.logger.Warn("failed to close producer", "error", cerr)
			}
		}
	}
	return err
}

func (s *Session) Queues() (primary, secondary *Queue) {
	return s.primary, s.secondary
}

func (s *Session) Stats() SessionStats {
	return SessionStats{
		Primary:   s.primary.Stats(),
		Secondary: s.secondary.Stats(),
		Sync:      s.sync.Stats(),
	}
}

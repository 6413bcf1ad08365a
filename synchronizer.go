package framesync

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
)

type PairingPolicy int

const (
	// PolicyFirstNotEarlier pairs a primary frame with the first secondary
	// frame whose absolute time is not earlier than the primary's.
	PolicyFirstNotEarlier PairingPolicy = iota
	// PolicyNearest pairs with the secondary frame nearest in absolute time,
	// preferring the later frame on ties.
	PolicyNearest
)

func (p PairingPolicy) String() string {
	switch p {
	case PolicyFirstNotEarlier:
		return "first-not-earlier"
	case PolicyNearest:
		return "nearest"
	default:
		return "unknown"
	}
}

func ParsePairingPolicy(s string) (PairingPolicy, error) {
	switch s {
	case "", "first-not-earlier":
		return PolicyFirstNotEarlier, nil
	case "nearest":
		return PolicyNearest, nil
	}
	return PolicyFirstNotEarlier, fmt.Errorf("unknown pairing policy: %q", s)
}

type SyncStats struct {
	Pairs         uint64 `json:"pairs"`
	Matched       uint64 `json:"matched"`
	Unmatched     uint64 `json:"unmatched"`
	MissingFrames uint64 `json:"missing-frames"`
	NoData        uint64 `json:"no-data"`
	NoMatch       uint64 `json:"no-match"`
}

type SynchronizerOption func(*Synchronizer)

// MaxGap sets the largest expected spacing between consecutive primary
// timestamps. Larger gaps are reported as EventMissingFrame. Zero disables
// gap detection.
func MaxGap(ticks int64) SynchronizerOption {
	return func(s *Synchronizer) {
		s.maxGap = ticks
	}
}

func Policy(p PairingPolicy) SynchronizerOption {
	return func(s *Synchronizer) {
		s.policy = p
	}
}

func Events(h EventHandler) SynchronizerOption {
	return func(s *Synchronizer) {
		s.events = h
	}
}

func Logger(l *slog.Logger) SynchronizerOption {
	return func(s *Synchronizer) {
		s.logger = l
	}
}

// Synchronizer pairs every frame of the primary queue with the temporally
// corresponding frame of the secondary queue.
type Synchronizer struct {
	primary   *Queue
	secondary *Queue

	maxGap int64
	policy PairingPolicy
	events EventHandler
	logger *slog.Logger

	pairs         atomic.Uint64
	matched       atomic.Uint64
	missingFrames atomic.Uint64
	noData        atomic.Uint64
	noMatch       atomic.Uint64
}

func NewSynchronizer(primary, secondary *Queue, opts ...SynchronizerOption) *Synchronizer {
	s := &Synchronizer{
		primary:   primary,
		secondary: secondary,
		policy:    PolicyFirstNotEarlier,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run consumes the primary queue until it is drained and writes one pair per
// primary frame to w. When Run returns, both queues are closed and drained.
// Cancelling ctx closes both queues and discards their frames.
func (s *Synchronizer) Run(ctx context.Context, w PairWriter) error {
	stop := context.AfterFunc(ctx, func() {
		s.primary.Close(true)
		s.secondary.Close(true)
	})
	defer stop()

	var prev Frame
	first := true
	for {
		f1, ok := s.primary.Acquire()
		if !ok {
			break
		}

		if !first && s.maxGap > 0 && f1.Timestamp-prev.Timestamp > s.maxGap {
			s.missingFrames.Add(1)
			s.emit(ctx, Event{
				Kind:      EventMissingFrame,
				Stream:    0,
				Timestamp: f1.Timestamp,
				Previous:  prev.Timestamp,
			})
		}

		t0, _ := s.primary.Epoch()
		target := t0 + f1.Timestamp
		pair := s.resolve(ctx, f1, target)

		s.pairs.Add(1)
		if pair.Matched {
			s.matched.Add(1)
		}
		if err := w.WritePair(pair); err != nil {
			s.primary.Close(true)
			s.secondary.Close(true)
			return fmt.Errorf("write pair: %w", err)
		}

		prev = f1
		first = false
	}

	// Nothing is left to pair the remaining secondary frames with. Closing
	// also stops a secondary feeder that is still reading.
	s.secondary.Close(true)

	s.logger.Info("synchronizer done", "pairs", s.pairs.Load(), "matched", s.matched.Load())
	return ctx.Err()
}

func (s *Synchronizer) resolve(ctx context.Context, f1 Frame, target int64) Pair {
	var m Match
	switch s.policy {
	case PolicyNearest:
		m = s.secondary.AcquireNearest(target)
	default:
		m = s.secondary.AcquireMatching(target)
	}

	pair := Pair{
		Primary: f1,
		Target:  target,
	}
	switch m.Status {
	case MatchFound:
		pair.Secondary = m.Frame
		pair.Matched = true
	case MatchNotYet:
		s.noData.Add(1)
		s.emit(ctx, Event{
			Kind:      EventNoData,
			Stream:    1,
			Timestamp: f1.Timestamp,
			Target:    target,
		})
	case MatchNone:
		s.noMatch.Add(1)
		s.emit(ctx, Event{
			Kind:           EventNoMatch,
			Stream:         1,
			Timestamp:      f1.Timestamp,
			Target:         target,
			WindowHead:     m.Head,
			WindowTail:     m.Tail,
			HasWindow:      m.HasWindow,
			SecondaryEnded: s.secondary.IsClosed(),
		})
	}
	return pair
}

func (s *Synchronizer) emit(ctx context.Context, e Event) {
	if s.events != nil {
		s.events.HandleEvent(ctx, e)
	}
}

func (s *Synchronizer) Stats() SyncStats {
	pairs := s.pairs.Load()
	matched := s.matched.Load()
	return SyncStats{
		Pairs:         pairs,
		Matched:       matched,
		Unmatched:     pairs - matched,
		MissingFrames: s.missingFrames.Load(),
		NoData:        s.noData.Load(),
		NoMatch:       s.noMatch.Load(),
	}
}

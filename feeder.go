package framesync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
)

var ErrEpochUnavailable = errors.New("epoch offset unavailable")

// Producer yields the frames of one stream. ReadFrame returns io.EOF at the
// end of the stream. Epoch is called once, before the first ReadFrame, and
// returns the absolute time of timestamp 0 in the stream's time base.
type Producer interface {
	Epoch(ctx context.Context) (int64, error)
	ReadFrame(ctx context.Context) (Frame, error)
}

// Flusher is implemented by producers that buffer frames internally. Flush is
// called once after ReadFrame failed and returns the frames still held back.
type Flusher interface {
	Flush() ([]Frame, error)
}

// Feeder moves frames from a Producer into a Queue until the producer is
// exhausted, then closes the queue.
type Feeder struct {
	name     string
	producer Producer
	queue    *Queue
	logger   *slog.Logger
}

func NewFeeder(name string, p Producer, q *Queue, logger *slog.Logger) *Feeder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Feeder{
		name:     name,
		producer: p,
		queue:    q,
		logger:   logger.With("stream", name),
	}
}

// Run feeds the queue and closes it exactly once before returning. The
// returned error describes why the producer stopped; io.EOF and cancellation
// are not reported.
func (f *Feeder) Run(ctx context.Context) error {
	t0, err := f.producer.Epoch(ctx)
	if err != nil {
		f.queue.Close(true)
		return fmt.Errorf("%s: %w: %w", f.name, ErrEpochUnavailable, err)
	}
	f.queue.SetEpoch(t0)
	f.logger.Info("stream epoch", "epoch", t0)

	var count int
	for {
		if f.queue.IsClosed() {
			f.logger.Info("queue closed by consumer, stop feeding", "frames", count)
			return nil
		}
		var frame Frame
		frame, err = f.producer.ReadFrame(ctx)
		if err != nil {
			break
		}
		if !f.queue.Enqueue(frame) {
			f.logger.Info("queue closed by consumer, stop feeding", "frames", count)
			return nil
		}
		count++
	}

	if flusher, ok := f.producer.(Flusher); ok {
		frames, ferr := flusher.Flush()
		for _, frame := range frames {
			f.queue.Enqueue(frame)
			count++
		}
		if ferr != nil {
			f.logger.Warn("flush failed", "error", ferr)
		}
	}
	f.queue.Close(false)

	if errors.Is(err, io.EOF) {
		f.logger.Info("end of stream", "frames", count)
		return nil
	}
	if ctx.Err() != nil {
		f.logger.Info("feeder cancelled", "frames", count)
		return nil
	}
	f.logger.Error("producer failed", "error", err, "frames", count)
	return fmt.Errorf("%s: %w", f.name, err)
}

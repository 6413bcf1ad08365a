package ivf

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/mengelbart/framesync"
	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
	"golang.org/x/time/rate"
)

// Info describes an IVF file.
type Info struct {
	FourCC    string             `json:"fourcc"`
	Width     uint16             `json:"width"`
	Height    uint16             `json:"height"`
	Timebase  framesync.Timebase `json:"timebase"`
	NumFrames uint32             `json:"num-frames"`
}

type SourceOption func(*Source) error

// WithEpoch sets the absolute time of timestamp 0 in the output time base.
func WithEpoch(t0 int64) SourceOption {
	return func(s *Source) error {
		s.epoch = t0
		return nil
	}
}

// WithTimebase sets the time base frame timestamps are rescaled to. Defaults
// to framesync.ClockRate90k.
func WithTimebase(tb framesync.Timebase) SourceOption {
	return func(s *Source) error {
		if err := tb.Validate(); err != nil {
			return err
		}
		s.timebase = tb
		return nil
	}
}

// WithPace releases frames in real time, spaced by the distance of their
// timestamps, instead of as fast as they can be read.
func WithPace(pace bool) SourceOption {
	return func(s *Source) error {
		s.pace = pace
		return nil
	}
}

func WithLogger(l *slog.Logger) SourceOption {
	return func(s *Source) error {
		s.logger = l
		return nil
	}
}

// Source implements framesync.Producer for IVF files.
type Source struct {
	reader *ivfreader.IVFReader
	header *ivfreader.IVFFileHeader
	closer io.Closer

	fileTimebase framesync.Timebase
	timebase     framesync.Timebase
	epoch        int64
	pace         bool
	limiter      *rate.Limiter
	logger       *slog.Logger

	count   uint64
	prevPTS int64
}

func NewSource(rc io.ReadCloser, opts ...SourceOption) (*Source, error) {
	ivfReader, ivfHeader, err := ivfreader.NewWith(rc)
	if err != nil {
		return nil, err
	}
	s := &Source{
		reader: ivfReader,
		header: ivfHeader,
		closer: rc,
		fileTimebase: framesync.Timebase{
			Num: int64(ivfHeader.TimebaseNumerator),
			Den: int64(ivfHeader.TimebaseDenominator),
		},
		timebase: framesync.ClockRate90k,
		logger:   slog.Default(),
	}
	if err = s.fileTimebase.Validate(); err != nil {
		return nil, fmt.Errorf("ivf header: %w", err)
	}
	for _, opt := range opts {
		if err = opt(s); err != nil {
			return nil, err
		}
	}
	if s.pace {
		// one token per tick of the file time base
		ticksPerSecond := float64(s.fileTimebase.Den) / float64(s.fileTimebase.Num)
		s.limiter = rate.NewLimiter(rate.Limit(ticksPerSecond), 0)
	}
	s.logger.Info(
		"opened ivf source",
		"fourcc", ivfHeader.FourCC,
		"width", ivfHeader.Width,
		"height", ivfHeader.Height,
		"timebase", s.fileTimebase.String(),
		"num-frames", ivfHeader.NumFrames,
	)
	return s, nil
}

func (s *Source) Info() Info {
	return Info{
		FourCC:    s.header.FourCC,
		Width:     s.header.Width,
		Height:    s.header.Height,
		Timebase:  s.fileTimebase,
		NumFrames: s.header.NumFrames,
	}
}

// Epoch implements framesync.Producer.
func (s *Source) Epoch(context.Context) (int64, error) {
	return s.epoch, nil
}

// ReadFrame implements framesync.Producer.
func (s *Source) ReadFrame(ctx context.Context) (framesync.Frame, error) {
	payload, header, err := s.reader.ParseNextFrame()
	if err != nil {
		return framesync.Frame{}, err
	}
	pts := filePTS(header.Timestamp, s.fileTimebase)
	if s.limiter != nil {
		if err = s.wait(ctx, pts); err != nil {
			return framesync.Frame{}, err
		}
	}
	s.count++

	attrs := framesync.Attributes{
		framesync.SequenceNumber: s.count - 1,
		framesync.PayloadSize:    len(payload),
	}
	if s.header.FourCC == "VP80" {
		attrs[framesync.IsKeyFrame] = isVP8KeyFrame(payload)
	}
	return framesync.Frame{
		Timestamp:  framesync.Rescale(pts, s.fileTimebase, s.timebase),
		Payload:    payload,
		Attributes: attrs,
	}, nil
}

// wait blocks until the frame with the given pts is due. The first frame is
// released immediately, every later one pts-prevPTS file ticks after the
// previous frame.
func (s *Source) wait(ctx context.Context, pts int64) error {
	if s.count == 0 {
		s.limiter.SetBurst(0)
		s.prevPTS = pts
		return nil
	}
	d := pts - s.prevPTS
	if d <= 0 {
		return nil
	}
	s.prevPTS = pts
	if int(d) > s.limiter.Burst() {
		s.limiter.SetBurst(int(d))
	}
	if err := s.limiter.WaitN(ctx, int(d)); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}

func (s *Source) Close() error {
	return s.closer.Close()
}

// FrameDuration is the nominal duration of one frame.
func (s *Source) FrameDuration() time.Duration {
	return s.fileTimebase.Duration(1)
}

// filePTS recovers the pts stored in the file from the value ivfreader
// reports, which is floor(pts*den/num).
func filePTS(timestamp uint64, tb framesync.Timebase) int64 {
	return (int64(timestamp)*tb.Num + tb.Den - 1) / tb.Den
}

// The P bit of the VP8 frame tag is 0 for key frames.
func isVP8KeyFrame(payload []byte) bool {
	return len(payload) > 0 && payload[0]&0x01 == 0
}

package ivf

import (
	"io"
	"log/slog"

	"github.com/mengelbart/framesync"
	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
	"github.com/pion/webrtc/v4/pkg/media/ivfwriter"
)

const (
	sinkMTU         = 1200
	sinkPayloadType = 96
	sinkSSRC        = 1
	sinkClockRate   = 90_000
)

// Sink writes the secondary frame of every matched pair into a VP8 IVF file,
// stamped with the primary frame's timestamp. The result is the secondary
// stream aligned to the primary time line. Unmatched pairs are skipped.
//
// The file uses a 1/90000 time base. Its pts values are the primary
// timestamps relative to the first written frame.
type Sink struct {
	writer     *ivfwriter.IVFWriter
	packetizer rtp.Packetizer
	timebase   framesync.Timebase
	logger     *slog.Logger

	written uint64
	skipped uint64
}

type SinkOption func(*Sink)

// SinkTimebase sets the time base of incoming primary timestamps. Defaults
// to framesync.ClockRate90k.
func SinkTimebase(tb framesync.Timebase) SinkOption {
	return func(s *Sink) {
		s.timebase = tb
	}
}

func SinkLogger(l *slog.Logger) SinkOption {
	return func(s *Sink) {
		s.logger = l
	}
}

func NewSink(wc io.WriteCloser, opts ...SinkOption) (*Sink, error) {
	ivfWriter, err := ivfwriter.NewWith(wc,
		ivfwriter.WithFrameRate(1, sinkClockRate),
		ivfwriter.WithDirectPTS(),
	)
	if err != nil {
		return nil, err
	}
	s := &Sink{
		writer:     ivfWriter,
		packetizer: rtp.NewPacketizer(sinkMTU, sinkPayloadType, sinkSSRC, &codecs.VP8Payloader{}, rtp.NewRandomSequencer(), sinkClockRate),
		timebase:   framesync.ClockRate90k,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// WritePair implements framesync.PairWriter.
func (s *Sink) WritePair(p framesync.Pair) error {
	if !p.Matched || len(p.Secondary.Payload) == 0 {
		s.skipped++
		return nil
	}
	ts := uint32(framesync.Rescale(p.Primary.Timestamp, s.timebase, framesync.ClockRate90k))
	for _, pkt := range s.packetizer.Packetize(p.Secondary.Payload, 0) {
		pkt.Timestamp = ts
		if err := s.writer.WriteRTP(pkt); err != nil {
			return err
		}
	}
	s.written++
	return nil
}

func (s *Sink) Close() error {
	s.logger.Info("closing ivf sink", "written", s.written, "skipped", s.skipped)
	return s.writer.Close()
}

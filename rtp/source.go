package rtp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/mengelbart/framesync"
	"github.com/mengelbart/framesync/internal/logging"
	"github.com/pion/interceptor/pkg/jitterbuffer"
	pionlogging "github.com/pion/logging"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
)

const (
	receiveMTU         = 1500
	defaultLossTimeout = 100 * time.Millisecond
)

var errSourceClosed = errors.New("rtp source closed")

type SourceOption func(*Source) error

// WithRTCP sets the connection sender reports are read from. The epoch of
// the stream is derived from the first sender report.
func WithRTCP(conn net.PacketConn) SourceOption {
	return func(s *Source) error {
		s.rtcpConn = conn
		return nil
	}
}

// WithEpoch sets a fixed epoch for streams without RTCP.
func WithEpoch(t0 int64) SourceOption {
	return func(s *Source) error {
		s.fixedEpoch = t0
		return nil
	}
}

// WithReference sets the wall clock time that maps to absolute time 0.
// Defaults to the Unix epoch.
func WithReference(ref time.Time) SourceOption {
	return func(s *Source) error {
		s.reference = ref
		return nil
	}
}

// WithLossTimeout sets how long a missing packet is waited for before the
// frame it belongs to is dropped.
func WithLossTimeout(d time.Duration) SourceOption {
	return func(s *Source) error {
		if d <= 0 {
			return fmt.Errorf("invalid loss timeout: %v", d)
		}
		s.lossTimeout = d
		return nil
	}
}

// WithMinimumPacketCount sets the number of packets the jitter buffer
// collects before it starts emitting.
func WithMinimumPacketCount(n uint16) SourceOption {
	return func(s *Source) error {
		s.jbOpts = append(s.jbOpts, jitterbuffer.WithMinimumPacketCount(n))
		return nil
	}
}

func WithLoggerFactory(f pionlogging.LoggerFactory) SourceOption {
	return func(s *Source) error {
		s.loggerFactory = f
		return nil
	}
}

func WithLogger(l *slog.Logger) SourceOption {
	return func(s *Source) error {
		s.logger = l
		return nil
	}
}

// Source implements framesync.Producer for a VP8 RTP stream received on a
// packet connection. Frame timestamps are unwrapped RTP timestamps in the
// 90 kHz clock.
type Source struct {
	rtpConn  net.PacketConn
	rtcpConn net.PacketConn

	fixedEpoch  int64
	reference   time.Time
	lossTimeout time.Duration
	jbOpts      []jitterbuffer.Option

	loggerFactory pionlogging.LoggerFactory
	log           pionlogging.LeveledLogger
	logger        *slog.Logger
	packetLogger  *logging.RTPLogger

	jitterBuffer     *jitterbuffer.JitterBuffer
	frameBuffer      []byte
	frameSeq         int64
	droppingFrame    bool
	missedPacketTime *time.Time
	ready            []framesync.Frame

	timestamps logging.Unwrapper[uint32]
	sequence   logging.Unwrapper[uint16]
	ssrc       uint32
	hasSSRC    bool

	srCh      chan *rtcp.SenderReport
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func NewSource(conn net.PacketConn, opts ...SourceOption) (*Source, error) {
	s := &Source{
		rtpConn:       conn,
		reference:     time.Unix(0, 0),
		lossTimeout:   defaultLossTimeout,
		loggerFactory: &logging.LoggerFactory{},
		logger:        slog.Default(),
		frameBuffer:   make([]byte, 0, 2000),
		srCh:          make(chan *rtcp.SenderReport, 1),
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	s.log = s.loggerFactory.NewLogger("rtp-source")
	s.packetLogger = logging.NewRTPLogger(conn.LocalAddr().String(), s.logger)
	s.jitterBuffer = jitterbuffer.New(s.jbOpts...)

	if s.rtcpConn != nil {
		s.wg.Go(s.readRTCP)
	}
	return s, nil
}

func (s *Source) readRTCP() {
	buf := make([]byte, receiveMTU)
	first := true
	for {
		n, _, err := s.rtcpConn.ReadFrom(buf)
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				s.log.Warnf("rtcp read failed: %v", err)
			}
			return
		}
		pkts, err := rtcp.Unmarshal(buf[:n])
		if err != nil {
			s.log.Debugf("dropping invalid rtcp packet: %v", err)
			continue
		}
		for _, pkt := range pkts {
			sr, ok := pkt.(*rtcp.SenderReport)
			if !ok {
				continue
			}
			s.logger.Debug(
				"sender report",
				"ssrc", sr.SSRC,
				"ntp-time", sr.NTPTime,
				"rtp-time", sr.RTPTime,
				"packet-count", sr.PacketCount,
			)
			if first {
				first = false
				s.srCh <- sr
			}
		}
	}
}

// Epoch implements framesync.Producer. With RTCP, Epoch blocks until the
// first sender report arrives.
func (s *Source) Epoch(ctx context.Context) (int64, error) {
	if s.rtcpConn == nil {
		return s.fixedEpoch, nil
	}
	select {
	case sr := <-s.srCh:
		// anchor the timestamp time line at the report's RTP time so both
		// agree across wraps
		s.timestamps.Unwrap(sr.RTPTime)
		s.ssrc = sr.SSRC
		s.hasSSRC = true
		t0 := ntpToTicks(sr.NTPTime, framesync.ClockRate90k) -
			framesync.ClockRate90k.Ticks(s.reference.Sub(time.Unix(0, 0))) -
			int64(sr.RTPTime)
		return t0, nil
	case <-s.done:
		return 0, errSourceClosed
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// ReadFrame implements framesync.Producer. It returns io.EOF once the source
// is closed.
func (s *Source) ReadFrame(ctx context.Context) (framesync.Frame, error) {
	var lock sync.Mutex
	interrupted := false
	stop := context.AfterFunc(ctx, func() {
		lock.Lock()
		defer lock.Unlock()
		interrupted = true
		_ = s.rtpConn.SetReadDeadline(time.Unix(1, 0))
	})
	defer stop()
	setDeadline := func(t time.Time) bool {
		lock.Lock()
		defer lock.Unlock()
		if interrupted {
			return false
		}
		_ = s.rtpConn.SetReadDeadline(t)
		return true
	}

	buf := make([]byte, receiveMTU)
	for {
		s.processPackets()
		if len(s.ready) > 0 {
			f := s.ready[0]
			s.ready = s.ready[1:]
			return f, nil
		}

		var deadline time.Time
		if s.missedPacketTime != nil {
			deadline = s.missedPacketTime.Add(s.lossTimeout)
		}
		if !setDeadline(deadline) {
			return framesync.Frame{}, ctx.Err()
		}
		n, _, err := s.rtpConn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return framesync.Frame{}, ctx.Err()
			}
			if errors.Is(err, net.ErrClosed) {
				return framesync.Frame{}, io.EOF
			}
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return framesync.Frame{}, err
		}
		if err = s.push(buf[:n]); err != nil {
			s.log.Debugf("dropping packet: %v", err)
		}
	}
}

func (s *Source) push(buf []byte) error {
	// copy rtp data to avoid memory reuse
	rtpBuf := make([]byte, len(buf))
	copy(rtpBuf, buf)

	pkt := new(rtp.Packet)
	if err := pkt.Unmarshal(rtpBuf); err != nil {
		return err
	}
	if !s.hasSSRC {
		s.ssrc = pkt.SSRC
		s.hasSSRC = true
	}
	if pkt.SSRC != s.ssrc {
		return fmt.Errorf("unexpected ssrc %v", pkt.SSRC)
	}
	s.packetLogger.LogRTPPacket(&pkt.Header, len(pkt.Payload))
	s.jitterBuffer.Push(pkt)
	return nil
}

func (s *Source) processPackets() {
	for {
		if _, err := s.jitterBuffer.Peek(true); errors.Is(err, jitterbuffer.ErrBufferUnderrun) {
			return
		}

		pkt, err := s.jitterBuffer.Pop()
		if errors.Is(err, jitterbuffer.ErrPopWhileBuffering) {
			return
		}
		if errors.Is(err, jitterbuffer.ErrNotFound) {
			if s.missedPacketTime == nil {
				now := time.Now()
				s.missedPacketTime = &now
				return
			}
			if time.Since(*s.missedPacketTime) >= s.lossTimeout {
				playoutHead := s.jitterBuffer.PlayoutHead()
				s.logger.Info("dropping frame, rtp packet lost", "sequence-number", playoutHead)

				s.jitterBuffer.SetPlayoutHead(playoutHead + 1)
				s.frameBuffer = s.frameBuffer[:0]
				s.droppingFrame = true
				s.missedPacketTime = nil
				continue
			}
			return
		}
		if err != nil {
			s.log.Errorf("jitter buffer: %v", err)
			return
		}
		s.missedPacketTime = nil
		seq := s.sequence.Unwrap(pkt.SequenceNumber)

		var vp8 codecs.VP8Packet
		payload, err := vp8.Unmarshal(pkt.Payload)
		if err != nil {
			s.log.Debugf("invalid vp8 payload in packet %v: %v", pkt.SequenceNumber, err)
			s.frameBuffer = s.frameBuffer[:0]
			s.droppingFrame = true
			continue
		}

		// RFC 7741: the S bit is set for the first packet of each frame
		if vp8.S == 1 {
			s.frameBuffer = s.frameBuffer[:0]
			s.frameSeq = seq
			s.droppingFrame = false
		}
		s.frameBuffer = append(s.frameBuffer, payload...)

		if pkt.Marker && !s.droppingFrame && len(s.frameBuffer) > 0 {
			frame := make([]byte, len(s.frameBuffer))
			copy(frame, s.frameBuffer)
			s.frameBuffer = s.frameBuffer[:0]
			s.ready = append(s.ready, framesync.Frame{
				Timestamp: s.timestamps.Unwrap(pkt.Timestamp),
				Payload:   frame,
				Attributes: framesync.Attributes{
					framesync.IsKeyFrame:     frame[0]&0x01 == 0,
					framesync.SequenceNumber: s.frameSeq,
					framesync.PayloadSize:    len(frame),
				},
			})
		}
	}
}

// Flush implements framesync.Flusher.
func (s *Source) Flush() ([]framesync.Frame, error) {
	s.processPackets()
	frames := s.ready
	s.ready = nil
	return frames, nil
}

// Close closes the underlying connections.
func (s *Source) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		err = s.rtpConn.Close()
		if s.rtcpConn != nil {
			err = errors.Join(err, s.rtcpConn.Close())
		}
		s.wg.Wait()
	})
	return err
}

// ntpToTicks converts a 64 bit NTP timestamp into ticks of tb since the Unix
// epoch.
func ntpToTicks(ntp uint64, tb framesync.Timebase) int64 {
	const ntpUnixOffset = 2_208_988_800
	secs := int64(ntp>>32) - ntpUnixOffset
	frac := int64(ntp & 0xFFFF_FFFF)
	ticks := framesync.Rescale(secs, framesync.Timebase{Num: 1, Den: 1}, tb)
	return ticks + framesync.Rescale(frac, framesync.Timebase{Num: 1, Den: 1 << 32}, tb)
}

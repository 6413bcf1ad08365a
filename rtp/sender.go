package rtp

import (
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net"
	"time"

	"github.com/mengelbart/framesync"
	"github.com/mengelbart/framesync/internal/logging"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
)

const (
	defaultSendMTU        = 1200
	defaultReportInterval = time.Second
	payloadTypeVP8        = 96
)

type SenderOption func(*Sender) error

// SenderRTCP sets the connection sender reports are written to.
func SenderRTCP(conn net.Conn) SenderOption {
	return func(s *Sender) error {
		s.rtcpConn = conn
		return nil
	}
}

// SenderEpoch sets the absolute time of frame timestamp 0 in ticks of the
// sender's time base.
func SenderEpoch(t0 int64) SenderOption {
	return func(s *Sender) error {
		s.epoch = t0
		return nil
	}
}

// SenderTimebase sets the time base of written frames. Defaults to
// framesync.ClockRate90k.
func SenderTimebase(tb framesync.Timebase) SenderOption {
	return func(s *Sender) error {
		if err := tb.Validate(); err != nil {
			return err
		}
		s.timebase = tb
		return nil
	}
}

// SenderReference sets the wall clock time that maps to absolute time 0.
// Defaults to the Unix epoch.
func SenderReference(ref time.Time) SenderOption {
	return func(s *Sender) error {
		s.reference = ref
		return nil
	}
}

func SenderSSRC(ssrc uint32) SenderOption {
	return func(s *Sender) error {
		s.ssrc = ssrc
		return nil
	}
}

// SenderTimestampOffset sets the RTP timestamp of frame timestamp 0.
// Defaults to a random value.
func SenderTimestampOffset(offset uint32) SenderOption {
	return func(s *Sender) error {
		s.offset = offset
		return nil
	}
}

func SenderMTU(mtu uint16) SenderOption {
	return func(s *Sender) error {
		if mtu <= rtpHeaderSize {
			return fmt.Errorf("mtu %d too small", mtu)
		}
		s.mtu = mtu
		return nil
	}
}

// SenderReportInterval sets the minimum spacing of sender reports in media
// time.
func SenderReportInterval(d time.Duration) SenderOption {
	return func(s *Sender) error {
		if d <= 0 {
			return fmt.Errorf("invalid report interval: %v", d)
		}
		s.reportInterval = framesync.ClockRate90k.Ticks(d)
		return nil
	}
}

func SenderLogger(l *slog.Logger) SenderOption {
	return func(s *Sender) error {
		s.logger = l
		return nil
	}
}

const rtpHeaderSize = 12

// Sender writes frames as a VP8 RTP stream. With RTCP, the first frame and
// every frame at least one report interval after the previous report are
// preceded by a sender report that maps the frame's RTP time to its absolute
// time.
type Sender struct {
	rtpConn  net.Conn
	rtcpConn net.Conn

	packetizer     rtp.Packetizer
	mtu            uint16
	ssrc           uint32
	offset         uint32
	timebase       framesync.Timebase
	epoch          int64
	reference      time.Time
	reportInterval int64

	logger       *slog.Logger
	packetLogger *logging.RTPLogger

	hasReport  bool
	lastReport int64
	packets    uint32
	octets     uint32
}

func NewSender(conn net.Conn, opts ...SenderOption) (*Sender, error) {
	s := &Sender{
		rtpConn:        conn,
		mtu:            defaultSendMTU,
		ssrc:           rand.Uint32(),
		offset:         rand.Uint32(),
		timebase:       framesync.ClockRate90k,
		reference:      time.Unix(0, 0),
		reportInterval: framesync.ClockRate90k.Ticks(defaultReportInterval),
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	s.packetizer = rtp.NewPacketizer(s.mtu, payloadTypeVP8, s.ssrc, &codecs.VP8Payloader{}, rtp.NewRandomSequencer(), uint32(framesync.ClockRate90k.Den))
	s.packetLogger = logging.NewRTPLogger(conn.RemoteAddr().String(), s.logger)
	return s, nil
}

// WriteFrame packetizes f and sends all packets.
func (s *Sender) WriteFrame(f framesync.Frame) error {
	ts := framesync.Rescale(f.Timestamp, s.timebase, framesync.ClockRate90k)
	rtpTime := s.offset + uint32(ts)

	if s.rtcpConn != nil && (!s.hasReport || ts-s.lastReport >= s.reportInterval) {
		abs := framesync.Rescale(s.epoch+f.Timestamp, s.timebase, framesync.ClockRate90k)
		if err := s.sendReport(abs, rtpTime); err != nil {
			return err
		}
		s.hasReport = true
		s.lastReport = ts
	}

	for _, pkt := range s.packetizer.Packetize(f.Payload, 0) {
		pkt.Timestamp = rtpTime
		buf, err := pkt.Marshal()
		if err != nil {
			return err
		}
		if _, err = s.rtpConn.Write(buf); err != nil {
			return err
		}
		s.packets++
		s.octets += uint32(len(pkt.Payload))
		s.packetLogger.LogRTPPacket(&pkt.Header, len(pkt.Payload))
	}
	return nil
}

func (s *Sender) sendReport(abs int64, rtpTime uint32) error {
	wall := abs + framesync.ClockRate90k.Ticks(s.reference.Sub(time.Unix(0, 0)))
	sr := &rtcp.SenderReport{
		SSRC:        s.ssrc,
		NTPTime:     ticksToNTP(wall, framesync.ClockRate90k),
		RTPTime:     rtpTime,
		PacketCount: s.packets,
		OctetCount:  s.octets,
	}
	buf, err := sr.Marshal()
	if err != nil {
		return err
	}
	s.logger.Debug("sending sender report", "ssrc", sr.SSRC, "ntp-time", sr.NTPTime, "rtp-time", sr.RTPTime)
	_, err = s.rtcpConn.Write(buf)
	return err
}

// Close closes the underlying connections.
func (s *Sender) Close() error {
	err := s.rtpConn.Close()
	if s.rtcpConn != nil {
		if rerr := s.rtcpConn.Close(); err == nil {
			err = rerr
		}
	}
	return err
}

// ticksToNTP is the inverse of ntpToTicks for non-negative ticks.
func ticksToNTP(ticks int64, tb framesync.Timebase) uint64 {
	const ntpUnixOffset = 2_208_988_800
	ns := int64(tb.Duration(ticks))
	secs := ns / int64(time.Second)
	frac := (ns % int64(time.Second)) << 32 / int64(time.Second)
	return uint64(secs+ntpUnixOffset)<<32 | uint64(frac)
}

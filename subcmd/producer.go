package subcmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"

	"github.com/mengelbart/framesync"
	"github.com/mengelbart/framesync/internal/config"
	"github.com/mengelbart/framesync/internal/logging"
	"github.com/mengelbart/framesync/ivf"
	"github.com/mengelbart/framesync/rtp"
)

var errNotOpened = errors.New("producer not opened")

// lazyProducer opens its source on the first call to Epoch. An open failure
// is returned from Epoch, which makes the feeder close the stream's queue
// while the other stream keeps running.
type lazyProducer struct {
	name string
	open func() (framesync.Producer, error)

	producer framesync.Producer
}

func lazyOpen(name string, sc config.StreamConfig, tb framesync.Timebase, logger *slog.Logger) *lazyProducer {
	return &lazyProducer{
		name: name,
		open: func() (framesync.Producer, error) {
			return openProducer(name, sc, tb, logger)
		},
	}
}

func (p *lazyProducer) Epoch(ctx context.Context) (int64, error) {
	if p.producer == nil {
		producer, err := p.open()
		if err != nil {
			return 0, fmt.Errorf("open %s source: %w", p.name, err)
		}
		p.producer = producer
	}
	return p.producer.Epoch(ctx)
}

func (p *lazyProducer) ReadFrame(ctx context.Context) (framesync.Frame, error) {
	if p.producer == nil {
		return framesync.Frame{}, errNotOpened
	}
	return p.producer.ReadFrame(ctx)
}

// Flush implements framesync.Flusher for sources that hold back frames.
func (p *lazyProducer) Flush() ([]framesync.Frame, error) {
	if f, ok := p.producer.(framesync.Flusher); ok {
		return f.Flush()
	}
	return nil, nil
}

func (p *lazyProducer) Close() error {
	if c, ok := p.producer.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func openProducer(name string, sc config.StreamConfig, tb framesync.Timebase, logger *slog.Logger) (framesync.Producer, error) {
	logger = logger.With("stream", name)
	switch sc.Kind() {
	case config.SourceIVF:
		f, err := os.Open(sc.Source)
		if err != nil {
			return nil, err
		}
		src, err := ivf.NewSource(f,
			ivf.WithEpoch(sc.Epoch),
			ivf.WithTimebase(tb),
			ivf.WithPace(sc.Pace),
			ivf.WithLogger(logger),
		)
		if err != nil {
			f.Close()
			return nil, err
		}
		return src, nil

	case config.SourceRTP:
		addr, err := sc.RTPAddress()
		if err != nil {
			return nil, err
		}
		conn, err := net.ListenPacket("udp", addr)
		if err != nil {
			return nil, err
		}
		opts := []rtp.SourceOption{
			rtp.WithEpoch(sc.Epoch),
			rtp.WithLogger(logger),
			rtp.WithLoggerFactory(&logging.LoggerFactory{Logger: logger}),
		}
		if sc.RTCP != "" {
			rtcpConn, err := net.ListenPacket("udp", sc.RTCP)
			if err != nil {
				conn.Close()
				return nil, err
			}
			opts = append(opts, rtp.WithRTCP(rtcpConn))
		}
		src, err := rtp.NewSource(conn, opts...)
		if err != nil {
			conn.Close()
			return nil, err
		}
		logger.Info("listening for rtp", "address", conn.LocalAddr().String(), "rtcp", sc.RTCP)
		return src, nil
	}
	return nil, fmt.Errorf("unsupported source: %q", sc.Source)
}

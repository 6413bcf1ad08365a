package subcmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mengelbart/framesync"
	"github.com/mengelbart/framesync/cmdmain"
	"github.com/mengelbart/framesync/flags"
	"github.com/mengelbart/framesync/ivf"
	"github.com/mengelbart/framesync/rtp"
)

func init() {
	cmdmain.RegisterSubCmd("send", func() cmdmain.SubCmd { return new(Send) })
}

type Send struct{}

func (s *Send) Help() string {
	return "Stream an IVF file as RTP"
}

func (s *Send) Exec(cmd string, args []string) error {
	fs := flag.NewFlagSet("send", flag.ExitOnError)
	flags.RegisterInto(fs, []flags.FlagName{
		flags.RemoteFlag,
		flags.RemoteRTCPFlag,
		flags.EpochFlag,
		flags.TimebaseFlag,
	}...)

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Stream a VP8 IVF file as RTP at its frame rate

Usage:
	%v send [flags] <file.ivf>

Flags:
`, cmd)
		fs.PrintDefaults()
		fmt.Fprintln(os.Stderr)
	}
	fs.Parse(args)

	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "error: expected exactly one input file")
		fs.Usage()
		os.Exit(1)
	}

	tb, err := framesync.ParseTimebase(flags.Timebase)
	if err != nil {
		return err
	}
	epoch := tb.Ticks(time.Since(time.Unix(0, 0)))
	fs.Visit(func(f *flag.Flag) {
		if flags.FlagName(f.Name) == flags.EpochFlag {
			epoch = flags.Epoch
		}
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return runSend(ctx, fs.Arg(0), tb, epoch, slog.Default())
}

func runSend(ctx context.Context, path string, tb framesync.Timebase, epoch int64, logger *slog.Logger) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	src, err := ivf.NewSource(f, ivf.WithTimebase(tb), ivf.WithPace(true), ivf.WithLogger(logger))
	if err != nil {
		f.Close()
		return err
	}
	defer src.Close()

	if src.Info().FourCC != "VP80" {
		return fmt.Errorf("unsupported codec %q, only VP80 can be sent", src.Info().FourCC)
	}

	rtpConn, err := net.Dial("udp", flags.Remote)
	if err != nil {
		return err
	}
	opts := []rtp.SenderOption{
		rtp.SenderTimebase(tb),
		rtp.SenderEpoch(epoch),
		rtp.SenderLogger(logger),
	}
	if flags.RemoteRTCP != "" {
		rtcpConn, err := net.Dial("udp", flags.RemoteRTCP)
		if err != nil {
			rtpConn.Close()
			return err
		}
		opts = append(opts, rtp.SenderRTCP(rtcpConn))
	}
	sender, err := rtp.NewSender(rtpConn, opts...)
	if err != nil {
		rtpConn.Close()
		return err
	}
	defer sender.Close()

	logger.Info("sending", "file", path, "remote", flags.Remote, "rtcp", flags.RemoteRTCP, "epoch", epoch)
	var sent int
	for {
		frame, err := src.ReadFrame(ctx)
		if errors.Is(err, io.EOF) {
			logger.Info("done sending", "frames", sent)
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if err = sender.WriteFrame(frame); err != nil {
			return err
		}
		sent++
	}
}

package subcmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mengelbart/framesync"
	"github.com/mengelbart/framesync/cmdmain"
	"github.com/mengelbart/framesync/flags"
	"github.com/mengelbart/framesync/internal/config"
	"github.com/mengelbart/framesync/internal/http"
	"github.com/mengelbart/framesync/internal/observe"
	"github.com/mengelbart/framesync/ivf"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"
)

func init() {
	cmdmain.RegisterSubCmd("sync", func() cmdmain.SubCmd { return new(Sync) })
}

type Sync struct{}

func (s *Sync) Help() string {
	return "Pair the frames of two streams"
}

func (s *Sync) Exec(cmd string, args []string) error {
	fs := flag.NewFlagSet("sync", flag.ExitOnError)

	flags.RegisterInto(fs, []flags.FlagName{
		flags.ConfigFlag,
		flags.PrimaryFlag,
		flags.SecondaryFlag,
		flags.PrimaryRTCPFlag,
		flags.SecondaryRTCPFlag,
		flags.PrimaryEpochFlag,
		flags.SecondaryEpochFlag,
		flags.PaceFlag,
		flags.CapacityFlag,
		flags.MaxGapFlag,
		flags.PolicyFlag,
		flags.TimebaseFlag,
		flags.OutFlag,
		flags.HTTPAddrFlag,
	}...)

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Pair every frame of a primary stream with the secondary frame that
belongs to the same instant

Usage:
	%v sync [flags]

Sources are IVF files or rtp://host:port addresses. RTP streams derive
their epoch from the first RTCP sender report if an RTCP address is set.

Flags:
`, cmd)
		fs.PrintDefaults()
		fmt.Fprintln(os.Stderr)
	}
	fs.Parse(args)

	if len(fs.Args()) > 0 {
		fmt.Fprintf(os.Stderr, "error: unknown extra arguments: %v\n", fs.Args())
		fs.Usage()
		os.Exit(1)
	}

	cfg, err := loadConfig(fs)
	if err != nil {
		return err
	}
	if flags.ConfigFile != "" {
		cmdmain.ConfigureLogging(cfg.Log.Format, cfg.Log.Level.Level())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return runSync(ctx, cfg, slog.Default())
}

// loadConfig reads the config file if one is given and applies all flags
// that were set explicitly on top of it.
func loadConfig(fs *flag.FlagSet) (*config.Config, error) {
	cfg := config.Default()
	if flags.ConfigFile != "" {
		var err error
		if cfg, err = config.Load(flags.ConfigFile); err != nil {
			return nil, err
		}
	}
	fs.Visit(func(f *flag.Flag) {
		switch flags.FlagName(f.Name) {
		case flags.PrimaryFlag:
			cfg.Streams.Primary.Source = flags.Primary
		case flags.SecondaryFlag:
			cfg.Streams.Secondary.Source = flags.Secondary
		case flags.PrimaryRTCPFlag:
			cfg.Streams.Primary.RTCP = flags.PrimaryRTCP
		case flags.SecondaryRTCPFlag:
			cfg.Streams.Secondary.RTCP = flags.SecondaryRTCP
		case flags.PrimaryEpochFlag:
			cfg.Streams.Primary.Epoch = flags.PrimaryT0
		case flags.SecondaryEpochFlag:
			cfg.Streams.Secondary.Epoch = flags.SecondaryT0
		case flags.PaceFlag:
			cfg.Streams.Primary.Pace = flags.Pace
			cfg.Streams.Secondary.Pace = flags.Pace
		case flags.CapacityFlag:
			cfg.Queue.Capacity = flags.Capacity
		case flags.MaxGapFlag:
			cfg.Sync.MaxGap = flags.MaxGap
		case flags.PolicyFlag:
			cfg.Sync.Policy = flags.Policy
		case flags.TimebaseFlag:
			cfg.Sync.Timebase = flags.Timebase
		case flags.OutFlag:
			cfg.Output.Path = flags.Out
		case flags.HTTPAddrFlag:
			cfg.HTTP.Address = flags.HTTPAddr
		}
	})
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runSync(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	tb, err := cfg.Timebase()
	if err != nil {
		return err
	}
	policy, err := cfg.PairingPolicy()
	if err != nil {
		return err
	}
	maxGap, err := cfg.MaxGapTicks()
	if err != nil {
		return err
	}

	mp, shutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "framesync",
		ServiceVersion: buildVersion(),
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdown(context.Background()); err != nil {
			logger.Warn("failed to shut down meter provider", "error", err)
		}
	}()
	metrics, err := observe.NewMetrics(mp)
	if err != nil {
		return err
	}

	primary := lazyOpen("primary", cfg.Streams.Primary, tb, logger)
	secondary := lazyOpen("secondary", cfg.Streams.Secondary, tb, logger)

	var writer framesync.PairWriter = framesync.PairWriterFunc(func(framesync.Pair) error {
		return nil
	})
	var sink *ivf.Sink
	if cfg.Output.Path != "" {
		f, err := os.Create(cfg.Output.Path)
		if err != nil {
			return err
		}
		sink, err = ivf.NewSink(f, ivf.SinkTimebase(tb), ivf.SinkLogger(logger))
		if err != nil {
			f.Close()
			return err
		}
		writer = sink
	}

	session, err := framesync.NewSession(framesync.SessionConfig{
		Capacity:  cfg.Queue.Capacity,
		MaxGap:    maxGap,
		Policy:    policy,
		Primary:   framesync.StreamConfig{Name: "primary", Producer: primary},
		Secondary: framesync.StreamConfig{Name: "secondary", Producer: secondary},
		Writer:    metrics.PairWriter(writer),
		Events:    framesync.MultiEventHandler(framesync.LogEvents(logger), metrics),
		Logger:    logger,
	})
	if err != nil {
		return errors.Join(err, closeSink(sink))
	}

	reg, err := metrics.ObserveQueues(session.Queues())
	if err != nil {
		return errors.Join(err, closeSink(sink))
	}
	defer reg.Unregister()

	var srv *http.Server
	if cfg.HTTP.Address != "" {
		api := http.NewAPI(session, promhttp.Handler(), logger)
		srv, err = http.NewServer(
			http.Address(cfg.HTTP.Address),
			http.Handle(otelhttp.NewHandler(api.Router(), "framesync-api")),
			http.Logger(logger),
			http.RequestLogger(logger.With("component", "http")),
		)
		if err != nil {
			return errors.Join(err, closeSink(sink))
		}
	}

	eg, ctx := errgroup.WithContext(ctx)
	srvCtx, cancelSrv := context.WithCancel(ctx)
	eg.Go(func() error {
		defer cancelSrv()
		return session.Run(ctx)
	})
	if srv != nil {
		eg.Go(func() error {
			return srv.ListenAndServe(srvCtx)
		})
	}
	err = eg.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}

	err = errors.Join(err, closeSink(sink))
	stats := session.Stats()
	logger.Info("session finished",
		"pairs", stats.Sync.Pairs,
		"matched", stats.Sync.Matched,
		"unmatched", stats.Sync.Unmatched,
		"primary-dropped", stats.Primary.Dropped,
		"secondary-dropped", stats.Secondary.Dropped,
	)
	return err
}

func closeSink(sink *ivf.Sink) error {
	if sink == nil {
		return nil
	}
	return sink.Close()
}

package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"strings"

	"github.com/mengelbart/framesync"
	"gopkg.in/yaml.v3"
)

// Load reads the YAML configuration file at path and returns a validated
// [Config]. Unset fields keep their [Default] values.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Queue.Capacity <= 0 {
		errs = append(errs, fmt.Errorf("queue.capacity %d must be positive", cfg.Queue.Capacity))
	}

	if cfg.Sync.MaxGap < 0 {
		errs = append(errs, fmt.Errorf("sync.max_gap %v must not be negative", cfg.Sync.MaxGap))
	}
	if _, err := cfg.PairingPolicy(); err != nil {
		errs = append(errs, fmt.Errorf("sync.policy %q is invalid; valid values: first-not-earlier, nearest", cfg.Sync.Policy))
	}
	if tb, err := cfg.Timebase(); err != nil {
		errs = append(errs, fmt.Errorf("sync.timebase: %w", err))
	} else if tb != framesync.ClockRate90k &&
		(cfg.Streams.Primary.Kind() == SourceRTP || cfg.Streams.Secondary.Kind() == SourceRTP) {
		errs = append(errs, fmt.Errorf("sync.timebase %v: rtp sources require %v", tb, framesync.ClockRate90k))
	}

	errs = append(errs, validateStream("streams.primary", cfg.Streams.Primary)...)
	errs = append(errs, validateStream("streams.secondary", cfg.Streams.Secondary)...)

	if cfg.Output.Path != "" && !strings.HasSuffix(strings.ToLower(cfg.Output.Path), ".ivf") {
		errs = append(errs, fmt.Errorf("output.path %q must be an .ivf file", cfg.Output.Path))
	}

	if cfg.Log.Format != "text" && cfg.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("log.format %q is invalid; valid values: text, json", cfg.Log.Format))
	}
	if !cfg.Log.Level.IsValid() {
		errs = append(errs, fmt.Errorf("log.level %q is invalid; valid values: debug, info, warn, error", cfg.Log.Level))
	}

	if cfg.HTTP.Address != "" {
		if _, _, err := net.SplitHostPort(cfg.HTTP.Address); err != nil {
			errs = append(errs, fmt.Errorf("http.address %q: %w", cfg.HTTP.Address, err))
		}
	}

	return errors.Join(errs...)
}

func validateStream(prefix string, s StreamConfig) []error {
	var errs []error
	switch s.Kind() {
	case SourceIVF:
		if s.RTCP != "" {
			errs = append(errs, fmt.Errorf("%s.rtcp is only supported for rtp sources", prefix))
		}
	case SourceRTP:
		if _, err := s.RTPAddress(); err != nil {
			errs = append(errs, fmt.Errorf("%s.source: %w", prefix, err))
		}
		if s.Pace {
			slog.Warn("pacing has no effect on live sources", "stream", prefix)
		}
		if s.RTCP != "" {
			if _, _, err := net.SplitHostPort(s.RTCP); err != nil {
				errs = append(errs, fmt.Errorf("%s.rtcp %q: %w", prefix, s.RTCP, err))
			}
		}
	default:
		if s.Source == "" {
			errs = append(errs, fmt.Errorf("%s.source is required", prefix))
		} else {
			errs = append(errs, fmt.Errorf("%s.source %q is neither an .ivf file nor an rtp:// address", prefix, s.Source))
		}
	}
	return errs
}

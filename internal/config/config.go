// Package config provides the configuration schema and loader for framesync
// sessions.
package config

import (
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/mengelbart/framesync"
	"github.com/mengelbart/framesync/internal/logging"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

func (l LogLevel) Level() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SourceKind is derived from the source location of a stream.
type SourceKind int

const (
	SourceUnknown SourceKind = iota
	SourceIVF
	SourceRTP
)

// Config is the root configuration structure.
type Config struct {
	Queue   QueueConfig   `yaml:"queue"`
	Sync    SyncConfig    `yaml:"sync"`
	Streams StreamsConfig `yaml:"streams"`
	Output  OutputConfig  `yaml:"output"`
	Log     LogConfig     `yaml:"log"`
	HTTP    HTTPConfig    `yaml:"http"`
}

type QueueConfig struct {
	// Capacity is the number of frames buffered per stream.
	Capacity int `yaml:"capacity"`
}

type SyncConfig struct {
	// MaxGap is the largest expected spacing of primary frames. Zero disables
	// missing frame detection.
	MaxGap time.Duration `yaml:"max_gap"`

	// Policy is one of first-not-earlier or nearest.
	Policy string `yaml:"policy"`

	// Timebase is the common time base of both streams, e.g. "1/90000".
	Timebase string `yaml:"timebase"`
}

type StreamsConfig struct {
	Primary   StreamConfig `yaml:"primary"`
	Secondary StreamConfig `yaml:"secondary"`
}

type StreamConfig struct {
	// Source is an IVF file path or rtp://host:port.
	Source string `yaml:"source"`

	// Epoch is the absolute time of timestamp 0 in the common time base.
	// Ignored for RTP sources with RTCP.
	Epoch int64 `yaml:"epoch"`

	// RTCP is the local address sender reports are received on.
	RTCP string `yaml:"rtcp"`

	// Pace releases IVF frames at the file frame rate.
	Pace bool `yaml:"pace"`
}

type OutputConfig struct {
	// Path of the IVF file the aligned secondary stream is written to. Empty
	// discards all pairs.
	Path string `yaml:"path"`
}

type LogConfig struct {
	Format logging.Format `yaml:"format"`
	Level  LogLevel       `yaml:"level"`
}

type HTTPConfig struct {
	// Address of the status API. Empty disables the server.
	Address string `yaml:"address"`
}

// Default returns the configuration used for unset fields.
func Default() *Config {
	return &Config{
		Queue: QueueConfig{
			Capacity: framesync.DefaultCapacity,
		},
		Sync: SyncConfig{
			Policy:   framesync.PolicyFirstNotEarlier.String(),
			Timebase: framesync.ClockRate90k.String(),
		},
		Log: LogConfig{
			Format: logging.TextFormat,
			Level:  LogInfo,
		},
	}
}

func (c *Config) Timebase() (framesync.Timebase, error) {
	return framesync.ParseTimebase(c.Sync.Timebase)
}

func (c *Config) PairingPolicy() (framesync.PairingPolicy, error) {
	return framesync.ParsePairingPolicy(c.Sync.Policy)
}

// MaxGapTicks returns Sync.MaxGap in ticks of the common time base.
func (c *Config) MaxGapTicks() (int64, error) {
	tb, err := c.Timebase()
	if err != nil {
		return 0, err
	}
	return tb.Ticks(c.Sync.MaxGap), nil
}

func (s StreamConfig) Kind() SourceKind {
	if strings.HasPrefix(s.Source, "rtp://") {
		return SourceRTP
	}
	if strings.HasSuffix(strings.ToLower(s.Source), ".ivf") {
		return SourceIVF
	}
	return SourceUnknown
}

// RTPAddress returns the host:port of an rtp:// source.
func (s StreamConfig) RTPAddress() (string, error) {
	u, err := url.Parse(s.Source)
	if err != nil {
		return "", err
	}
	if u.Scheme != "rtp" {
		return "", fmt.Errorf("not an rtp source: %q", s.Source)
	}
	if _, _, err = net.SplitHostPort(u.Host); err != nil {
		return "", fmt.Errorf("invalid rtp address %q: %w", u.Host, err)
	}
	return u.Host, nil
}

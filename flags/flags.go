// Package flags implements command-line flags for framesync.
//
// The design idea is taken from [upspin.io/flags], but most of the code is
// modified. This package uses a slightly modified version of [RegisterInto] and
// the internal [flags]-map. See [Upspin LICENSE] for upspins copyright and
// license information.
//
// [upspin.io/flags]: https://github.com/upspin/upspin/tree/334f107fe3d98225d7adfbb35b74e066fbca9875/flags
// [Upspin LICENSE]: https://github.com/upspin/upspin/blob/334f107fe3d98225d7adfbb35b74e066fbca9875/LICENSE
package flags

import (
	"flag"
	"fmt"
	"time"

	"github.com/mengelbart/framesync"
)

type FlagName string

// flag keys
const (
	ConfigFlag FlagName = "config"

	PrimaryFlag        FlagName = "primary"
	SecondaryFlag      FlagName = "secondary"
	PrimaryRTCPFlag    FlagName = "primary-rtcp"
	SecondaryRTCPFlag  FlagName = "secondary-rtcp"
	PrimaryEpochFlag   FlagName = "primary-epoch"
	SecondaryEpochFlag FlagName = "secondary-epoch"
	PaceFlag           FlagName = "pace"

	CapacityFlag FlagName = "capacity"
	MaxGapFlag   FlagName = "max-gap"
	PolicyFlag   FlagName = "policy"
	TimebaseFlag FlagName = "timebase"

	OutFlag      FlagName = "out"
	HTTPAddrFlag FlagName = "http-address"

	RemoteFlag     FlagName = "remote"
	RemoteRTCPFlag FlagName = "remote-rtcp"
	EpochFlag      FlagName = "epoch"
)

// Flag vars
var (
	ConfigFile = ""

	// Sources are IVF files or rtp://host:port addresses
	Primary       = ""
	Secondary     = ""
	PrimaryRTCP   = ""
	SecondaryRTCP = ""
	PrimaryT0     = int64(0)
	SecondaryT0   = int64(0)
	Pace          = false

	Capacity = framesync.DefaultCapacity
	MaxGap   = time.Duration(0)
	Policy   = framesync.PolicyFirstNotEarlier.String()
	Timebase = framesync.ClockRate90k.String()

	Out = ""

	// HTTP Server, empty disables the status API
	HTTPAddr = ""

	// Send flags
	Remote     = "127.0.0.1:5000"
	RemoteRTCP = ""
	Epoch      = int64(0)
)

type flagVar func(*flag.FlagSet)

func stringVar(p *string, name FlagName, defaultValue *string, usage string) func(*flag.FlagSet) {
	return func(fs *flag.FlagSet) {
		fs.StringVar(p, string(name), *defaultValue, usage)
	}
}

func intVar(p *int, name FlagName, defaultValue *int, usage string) func(*flag.FlagSet) {
	return func(fs *flag.FlagSet) {
		fs.IntVar(p, string(name), *defaultValue, usage)
	}
}

func int64Var(p *int64, name FlagName, defaultValue *int64, usage string) func(*flag.FlagSet) {
	return func(fs *flag.FlagSet) {
		fs.Int64Var(p, string(name), *defaultValue, usage)
	}
}

func durationVar(p *time.Duration, name FlagName, defaultValue *time.Duration, usage string) func(*flag.FlagSet) {
	return func(fs *flag.FlagSet) {
		fs.DurationVar(p, string(name), *defaultValue, usage)
	}
}

func boolVar(p *bool, name FlagName, defaultValue *bool, usage string) func(*flag.FlagSet) {
	return func(fs *flag.FlagSet) {
		fs.BoolVar(p, string(name), *defaultValue, usage)
	}
}

var flags = map[FlagName]flagVar{
	ConfigFlag: stringVar(&ConfigFile, ConfigFlag, &ConfigFile, "YAML configuration file. Flags that are set explicitly override its values"),

	// Stream flags
	PrimaryFlag:        stringVar(&Primary, PrimaryFlag, &Primary, "Primary source (IVF file or rtp://host:port)"),
	SecondaryFlag:      stringVar(&Secondary, SecondaryFlag, &Secondary, "Secondary source (IVF file or rtp://host:port)"),
	PrimaryRTCPFlag:    stringVar(&PrimaryRTCP, PrimaryRTCPFlag, &PrimaryRTCP, "Local address to receive RTCP sender reports of the primary RTP stream on"),
	SecondaryRTCPFlag:  stringVar(&SecondaryRTCP, SecondaryRTCPFlag, &SecondaryRTCP, "Local address to receive RTCP sender reports of the secondary RTP stream on"),
	PrimaryEpochFlag:   int64Var(&PrimaryT0, PrimaryEpochFlag, &PrimaryT0, "Absolute time of primary timestamp 0 in ticks of the time base"),
	SecondaryEpochFlag: int64Var(&SecondaryT0, SecondaryEpochFlag, &SecondaryT0, "Absolute time of secondary timestamp 0 in ticks of the time base"),
	PaceFlag:           boolVar(&Pace, PaceFlag, &Pace, "Release IVF frames at their frame rate"),

	// Sync flags
	CapacityFlag: intVar(&Capacity, CapacityFlag, &Capacity, "Number of frames buffered per stream"),
	MaxGapFlag:   durationVar(&MaxGap, MaxGapFlag, &MaxGap, "Largest expected spacing of primary frames, 0 disables missing frame detection"),
	PolicyFlag:   stringVar(&Policy, PolicyFlag, &Policy, "Pairing policy (first-not-earlier, nearest)"),
	TimebaseFlag: stringVar(&Timebase, TimebaseFlag, &Timebase, "Common time base of both streams"),

	// IO flags
	OutFlag:      stringVar(&Out, OutFlag, &Out, "IVF file to write the aligned secondary stream to"),
	HTTPAddrFlag: stringVar(&HTTPAddr, HTTPAddrFlag, &HTTPAddr, "HTTP status API address"),

	// Send flags
	RemoteFlag:     stringVar(&Remote, RemoteFlag, &Remote, "Address to send RTP to"),
	RemoteRTCPFlag: stringVar(&RemoteRTCP, RemoteRTCPFlag, &RemoteRTCP, "Address to send RTCP sender reports to, empty disables RTCP"),
	EpochFlag:      int64Var(&Epoch, EpochFlag, &Epoch, "Absolute time of timestamp 0 in ticks of the time base (default: start time since the Unix epoch)"),
}

func RegisterInto(fs *flag.FlagSet, names ...FlagName) {
	if len(names) == 0 {
		for _, f := range flags {
			f(fs)
		}
	} else {
		for _, n := range names {
			f, ok := flags[n]
			if !ok {
				panic(fmt.Sprintf("unknown flag: %q", n))
			}
			f(fs)
		}
	}
}

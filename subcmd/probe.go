package subcmd

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/mengelbart/framesync"
	"github.com/mengelbart/framesync/cmdmain"
	"github.com/mengelbart/framesync/flags"
	"github.com/mengelbart/framesync/ivf"
)

func init() {
	cmdmain.RegisterSubCmd("probe", func() cmdmain.SubCmd { return new(Probe) })
}

type Probe struct {
	json bool
}

func (p *Probe) Help() string {
	return "Print frame timing of IVF files"
}

func (p *Probe) Exec(cmd string, args []string) error {
	fs := flag.NewFlagSet("probe", flag.ExitOnError)
	flags.RegisterInto(fs, flags.TimebaseFlag)
	fs.BoolVar(&p.json, "json", false, "Print JSON instead of text")

	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Print the header and frame timing of IVF files

Usage:
	%v probe [flags] <file.ivf>...

Flags:
`, cmd)
		fs.PrintDefaults()
		fmt.Fprintln(os.Stderr)
	}
	fs.Parse(args)

	if fs.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "error: missing input file")
		fs.Usage()
		os.Exit(1)
	}

	tb, err := framesync.ParseTimebase(flags.Timebase)
	if err != nil {
		return err
	}
	for _, path := range fs.Args() {
		sum, err := probeFile(path, tb)
		if err != nil {
			return fmt.Errorf("%v: %w", path, err)
		}
		if err = p.print(path, tb, sum); err != nil {
			return err
		}
	}
	return nil
}

func probeFile(path string, tb framesync.Timebase) (ivf.Summary, error) {
	f, err := os.Open(path)
	if err != nil {
		return ivf.Summary{}, err
	}
	src, err := ivf.NewSource(f, ivf.WithTimebase(tb), ivf.WithLogger(slog.Default()))
	if err != nil {
		f.Close()
		return ivf.Summary{}, err
	}
	defer src.Close()
	return ivf.Probe(context.Background(), src)
}

func (p *Probe) print(path string, tb framesync.Timebase, sum ivf.Summary) error {
	if p.json {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			Path string `json:"path"`
			ivf.Summary
		}{path, sum})
	}
	fmt.Fprintf(os.Stdout, `%s
	Codec:		%s %dx%d
	Timebase:	%v
	Frames:		%d (%d key frames, %d declared)
	Bytes:		%d
	Duration:	%v
	Timestamps:	%d - %d (%v)
	Frame gap:	%d - %d
	Non-increasing:	%d
`,
		path,
		sum.FourCC, sum.Width, sum.Height,
		sum.Timebase,
		sum.Frames, sum.KeyFrames, sum.NumFrames,
		sum.Bytes,
		sum.Duration,
		sum.First, sum.Last, tb,
		sum.MinGap, sum.MaxGap,
		sum.NonIncreasing,
	)
	return nil
}

package ivf

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/mengelbart/framesync"
)

// Summary describes the frames of an IVF file. Timestamps and gaps are in
// ticks of the source's output time base.
type Summary struct {
	Info

	Frames    uint64 `json:"frames"`
	KeyFrames uint64 `json:"key-frames"`
	Bytes     uint64 `json:"bytes"`

	First    int64         `json:"first"`
	Last     int64         `json:"last"`
	Duration time.Duration `json:"duration"`
	MinGap   int64         `json:"min-gap"`
	MaxGap   int64         `json:"max-gap"`

	// NonIncreasing counts frames whose timestamp is not larger than the
	// previous one.
	NonIncreasing uint64 `json:"non-increasing"`
}

// Probe reads all remaining frames of s.
func Probe(ctx context.Context, s *Source) (Summary, error) {
	sum := Summary{Info: s.Info()}
	for {
		f, err := s.ReadFrame(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return sum, err
		}
		if sum.Frames == 0 {
			sum.First = f.Timestamp
		} else {
			gap := f.Timestamp - sum.Last
			if gap <= 0 {
				sum.NonIncreasing++
			}
			if sum.Frames == 1 || gap < sum.MinGap {
				sum.MinGap = gap
			}
			if sum.Frames == 1 || gap > sum.MaxGap {
				sum.MaxGap = gap
			}
		}
		sum.Last = f.Timestamp
		sum.Frames++
		sum.Bytes += uint64(len(f.Payload))
		if f.KeyFrame() {
			sum.KeyFrames++
		}
	}
	sum.Duration = s.timebase.Duration(sum.Last - sum.First)
	return sum, nil
}

var _ framesync.Producer = (*Source)(nil)

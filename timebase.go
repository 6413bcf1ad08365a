package framesync

import (
	"errors"
	"fmt"
	"math/big"
	"time"
)

// Timebase is the duration of one timestamp tick in seconds, Num/Den.
type Timebase struct {
	Num int64 `json:"num" yaml:"num"`
	Den int64 `json:"den" yaml:"den"`
}

// ClockRate90k is the time base of RTP video clocks and the default common
// time base of a session.
var ClockRate90k = Timebase{Num: 1, Den: 90_000}

var errInvalidTimebase = errors.New("invalid time base")

func (tb Timebase) Validate() error {
	if tb.Num <= 0 || tb.Den <= 0 {
		return fmt.Errorf("%w: %d/%d", errInvalidTimebase, tb.Num, tb.Den)
	}
	return nil
}

func (tb Timebase) String() string {
	return fmt.Sprintf("%d/%d", tb.Num, tb.Den)
}

// ParseTimebase parses "num/den", e.g. "1/90000".
func ParseTimebase(s string) (Timebase, error) {
	var tb Timebase
	if _, err := fmt.Sscanf(s, "%d/%d", &tb.Num, &tb.Den); err != nil {
		return Timebase{}, fmt.Errorf("%w: %q", errInvalidTimebase, s)
	}
	if err := tb.Validate(); err != nil {
		return Timebase{}, err
	}
	return tb, nil
}

// Rescale converts ts from time base from to time base to, rounding to the
// nearest tick.
func Rescale(ts int64, from, to Timebase) int64 {
	if from == to {
		return ts
	}
	// ts * from.Num * to.Den / (from.Den * to.Num)
	num := new(big.Int).Mul(big.NewInt(ts), big.NewInt(from.Num*to.Den))
	den := big.NewInt(from.Den * to.Num)
	half := new(big.Int).Quo(den, big.NewInt(2))
	if num.Sign() < 0 {
		num.Sub(num, half)
	} else {
		num.Add(num, half)
	}
	return num.Quo(num, den).Int64()
}

// Duration converts ts ticks into a time.Duration.
func (tb Timebase) Duration(ts int64) time.Duration {
	return time.Duration(Rescale(ts, tb, Timebase{Num: 1, Den: int64(time.Second)}))
}

// Ticks converts d into ticks of tb.
func (tb Timebase) Ticks(d time.Duration) int64 {
	return Rescale(int64(d), Timebase{Num: 1, Den: int64(time.Second)}, tb)
}

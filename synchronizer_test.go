package framesync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"testing/synctest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pairRecorder struct {
	lock  sync.Mutex
	pairs []Pair
}

func (r *pairRecorder) WritePair(p Pair) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.pairs = append(r.pairs, p)
	return nil
}

func (r *pairRecorder) secondaries() []int64 {
	r.lock.Lock()
	defer r.lock.Unlock()
	res := make([]int64, 0, len(r.pairs))
	for _, p := range r.pairs {
		if p.Matched {
			res = append(res, p.Secondary.Timestamp)
		} else {
			res = append(res, -1)
		}
	}
	return res
}

type eventRecorder struct {
	lock   sync.Mutex
	events []Event
}

func (r *eventRecorder) HandleEvent(_ context.Context, e Event) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.events = append(r.events, e)
}

func (r *eventRecorder) kinds() []EventKind {
	r.lock.Lock()
	defer r.lock.Unlock()
	res := make([]EventKind, 0, len(r.events))
	for _, e := range r.events {
		res = append(res, e.Kind)
	}
	return res
}

func closedQueue(t *testing.T, epoch int64, timestamps ...int64) *Queue {
	t.Helper()
	q := newTestQueue(t, 30, timestamps...)
	q.SetEpoch(epoch)
	q.Close(false)
	return q
}

func TestSynchronizerPairsEveryPrimaryFrame(t *testing.T) {
	testCases := []struct {
		name      string
		policy    PairingPolicy
		primary   []int64
		secondary []int64
		expected  []int64
	}{
		{
			name:      "equal-rates",
			primary:   []int64{0, 100, 200, 300},
			secondary: []int64{0, 100, 200, 300},
			expected:  []int64{0, 100, 200, 300},
		},
		{
			name:      "faster-secondary",
			primary:   []int64{0, 100, 200, 300},
			secondary: []int64{0, 50, 100, 150, 200, 250, 300},
			expected:  []int64{0, 100, 200, 300},
		},
		{
			name:      "slower-secondary-repeats",
			primary:   []int64{0, 50, 100, 150, 200},
			secondary: []int64{0, 100, 200},
			expected:  []int64{0, 100, 100, 200, 200},
		},
		{
			name:      "offset-secondary",
			primary:   []int64{0, 100, 200},
			secondary: []int64{30, 130, 230},
			expected:  []int64{30, 130, 230},
		},
		{
			name:      "nearest",
			policy:    PolicyNearest,
			primary:   []int64{0, 100, 200},
			secondary: []int64{30, 90, 160, 230},
			expected:  []int64{30, 90, 230},
		},
		{
			name:      "secondary-ends-early",
			primary:   []int64{0, 100, 200},
			secondary: []int64{0, 100},
			expected:  []int64{0, 100, -1},
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			primary := closedQueue(t, 0, tc.primary...)
			secondary := closedQueue(t, 0, tc.secondary...)

			var pairs pairRecorder
			s := NewSynchronizer(primary, secondary, Policy(tc.policy))
			require.NoError(t, s.Run(context.Background(), &pairs))

			assert.Equal(t, tc.expected, pairs.secondaries())
			assert.True(t, primary.IsDrained())
			assert.True(t, secondary.IsDrained())

			stats := s.Stats()
			assert.Equal(t, uint64(len(tc.primary)), stats.Pairs)
			assert.Equal(t, stats.Pairs, stats.Matched+stats.Unmatched)
		})
	}
}

func TestSynchronizerEpochOffset(t *testing.T) {
	// secondary started 1000 ticks after primary
	primary := closedQueue(t, 0, 1000, 1100, 1200)
	secondary := closedQueue(t, 1000, 0, 100, 200)

	var pairs pairRecorder
	s := NewSynchronizer(primary, secondary)
	require.NoError(t, s.Run(context.Background(), &pairs))

	assert.Equal(t, []int64{0, 100, 200}, pairs.secondaries())
	for _, p := range pairs.pairs {
		assert.Equal(t, p.Primary.Timestamp, p.Target)
	}
}

func TestSynchronizerSecondaryAhead(t *testing.T) {
	primary := closedQueue(t, 0, 100, 200)
	secondary := closedQueue(t, 0, 300, 350)

	var pairs pairRecorder
	var events eventRecorder
	s := NewSynchronizer(primary, secondary, Events(&events))
	require.NoError(t, s.Run(context.Background(), &pairs))

	assert.Equal(t, []int64{-1, -1}, pairs.secondaries())
	assert.Equal(t, []EventKind{EventNoMatch, EventNoMatch}, events.kinds())

	e := events.events[0]
	assert.Equal(t, 1, e.Stream)
	assert.Equal(t, int64(100), e.Target)
	assert.True(t, e.HasWindow)
	assert.Equal(t, int64(300), e.WindowHead)
	assert.Equal(t, int64(350), e.WindowTail)

	assert.Equal(t, SyncStats{Pairs: 2, Unmatched: 2, NoMatch: 2}, s.Stats())
}

func TestSynchronizerNoData(t *testing.T) {
	primary := closedQueue(t, 0, 0)
	secondary := newTestQueue(t, 30)

	var pairs pairRecorder
	var events eventRecorder
	s := NewSynchronizer(primary, secondary, Events(&events))
	require.NoError(t, s.Run(context.Background(), &pairs))

	assert.Equal(t, []int64{-1}, pairs.secondaries())
	assert.Equal(t, []EventKind{EventNoData}, events.kinds())
	assert.True(t, secondary.IsDrained())
}

func TestSynchronizerMissingFrame(t *testing.T) {
	primary := closedQueue(t, 0, 0, 100, 200, 500, 600)
	secondary := closedQueue(t, 0, 0, 100, 200, 300, 400, 500, 600)

	var pairs pairRecorder
	var events eventRecorder
	s := NewSynchronizer(primary, secondary, MaxGap(150), Events(&events))
	require.NoError(t, s.Run(context.Background(), &pairs))

	assert.Equal(t, []EventKind{EventMissingFrame}, events.kinds())
	e := events.events[0]
	assert.Equal(t, 0, e.Stream)
	assert.Equal(t, int64(500), e.Timestamp)
	assert.Equal(t, int64(200), e.Previous)

	assert.Equal(t, []int64{0, 100, 200, 500, 600}, pairs.secondaries())
	assert.Equal(t, uint64(1), s.Stats().MissingFrames)
}

func TestSynchronizerSecondaryEnded(t *testing.T) {
	primary := closedQueue(t, 0, 0, 100)
	secondary := closedQueue(t, 0)

	var pairs pairRecorder
	var events eventRecorder
	s := NewSynchronizer(primary, secondary, Events(&events))
	require.NoError(t, s.Run(context.Background(), &pairs))

	require.Len(t, events.events, 2)
	for _, e := range events.events {
		assert.Equal(t, EventNoMatch, e.Kind)
		assert.True(t, e.SecondaryEnded)
		assert.False(t, e.HasWindow)
	}
}

func TestSynchronizerWaitsForSecondary(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		primary := closedQueue(t, 0, 100)
		secondary := newTestQueue(t, 30, 0, 50)

		var pairs pairRecorder
		s := NewSynchronizer(primary, secondary)
		done := make(chan error, 1)
		go func() {
			done <- s.Run(t.Context(), &pairs)
		}()

		synctest.Wait()
		assert.Empty(t, pairs.secondaries())

		secondary.Enqueue(Frame{Timestamp: 100})
		require.NoError(t, <-done)
		assert.Equal(t, []int64{100}, pairs.secondaries())
	})
}

func TestSynchronizerWriterError(t *testing.T) {
	primary := closedQueue(t, 0, 0, 100, 200)
	secondary := closedQueue(t, 0, 0, 100, 200)

	errSink := errors.New("sink failed")
	calls := 0
	s := NewSynchronizer(primary, secondary)
	err := s.Run(context.Background(), PairWriterFunc(func(Pair) error {
		calls++
		return errSink
	}))
	assert.ErrorIs(t, err, errSink)
	assert.Equal(t, 1, calls)
	assert.True(t, primary.IsDrained())
	assert.True(t, secondary.IsDrained())
}

func TestSynchronizerCancel(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		primary := newTestQueue(t, 30)
		secondary := newTestQueue(t, 30, 0, 100)

		ctx, cancel := context.WithCancel(t.Context())
		s := NewSynchronizer(primary, secondary)
		done := make(chan error, 1)
		go func() {
			done <- s.Run(ctx, &pairRecorder{})
		}()

		synctest.Wait()
		cancel()
		assert.ErrorIs(t, <-done, context.Canceled)
		assert.True(t, primary.IsDrained())
		assert.True(t, secondary.IsDrained())
	})
}

func TestParsePairingPolicy(t *testing.T) {
	for _, p := range []PairingPolicy{PolicyFirstNotEarlier, PolicyNearest} {
		parsed, err := ParsePairingPolicy(p.String())
		assert.NoError(t, err)
		assert.Equal(t, p, parsed)
	}
	_, err := ParsePairingPolicy("latest")
	assert.Error(t, err)
}

package ivf

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"testing/synctest"
	"time"

	"github.com/mengelbart/framesync"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testFrame struct {
	ts      uint64
	payload []byte
}

func ivfFile(t *testing.T, fourcc string, num, den uint32, frames ...testFrame) io.ReadCloser {
	t.Helper()
	var buf bytes.Buffer
	header := make([]byte, 32)
	copy(header[0:], "DKIF")
	binary.LittleEndian.PutUint16(header[4:], 0)
	binary.LittleEndian.PutUint16(header[6:], 32)
	copy(header[8:], fourcc)
	binary.LittleEndian.PutUint16(header[12:], 640)
	binary.LittleEndian.PutUint16(header[14:], 480)
	binary.LittleEndian.PutUint32(header[16:], den)
	binary.LittleEndian.PutUint32(header[20:], num)
	binary.LittleEndian.PutUint32(header[24:], uint32(len(frames)))
	buf.Write(header)
	for _, f := range frames {
		fh := make([]byte, 12)
		binary.LittleEndian.PutUint32(fh[0:], uint32(len(f.payload)))
		binary.LittleEndian.PutUint64(fh[4:], f.ts)
		buf.Write(fh)
		buf.Write(f.payload)
	}
	return io.NopCloser(&buf)
}

var (
	keyFrame   = []byte{0x00, 0x9d, 0x01, 0x2a}
	deltaFrame = []byte{0x01, 0x02, 0x03, 0x04}
)

func TestSourceReadFrame(t *testing.T) {
	src, err := NewSource(ivfFile(t, "VP80", 1, 30,
		testFrame{0, keyFrame},
		testFrame{1, deltaFrame},
		testFrame{2, deltaFrame},
	))
	require.NoError(t, err)

	assert.Equal(t, Info{
		FourCC:    "VP80",
		Width:     640,
		Height:    480,
		Timebase:  framesync.Timebase{Num: 1, Den: 30},
		NumFrames: 3,
	}, src.Info())
	assert.Equal(t, 33333333*time.Nanosecond, src.FrameDuration())

	ctx := context.Background()
	epoch, err := src.Epoch(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), epoch)

	var timestamps []int64
	var keyFrames []bool
	for {
		f, err := src.ReadFrame(ctx)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		timestamps = append(timestamps, f.Timestamp)
		keyFrames = append(keyFrames, f.KeyFrame())
	}
	assert.Equal(t, []int64{0, 3000, 6000}, timestamps)
	assert.Equal(t, []bool{true, false, false}, keyFrames)
	assert.NoError(t, src.Close())
}

func TestSourceOptions(t *testing.T) {
	src, err := NewSource(ivfFile(t, "VP80", 1, 30, testFrame{3, deltaFrame}),
		WithEpoch(5000),
		WithTimebase(framesync.Timebase{Num: 1, Den: 1000}),
	)
	require.NoError(t, err)

	epoch, err := src.Epoch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(5000), epoch)

	f, err := src.ReadFrame(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(100), f.Timestamp)
}

func TestSourceInvalidTimebase(t *testing.T) {
	_, err := NewSource(ivfFile(t, "VP80", 1, 0))
	assert.Error(t, err)

	_, err = NewSource(ivfFile(t, "VP80", 1, 30), WithTimebase(framesync.Timebase{}))
	assert.Error(t, err)
}

func TestSourceNoKeyFrameAttributeForOtherCodecs(t *testing.T) {
	src, err := NewSource(ivfFile(t, "VP90", 1, 30, testFrame{0, keyFrame}))
	require.NoError(t, err)

	f, err := src.ReadFrame(context.Background())
	require.NoError(t, err)
	_, ok := f.Attributes[framesync.IsKeyFrame]
	assert.False(t, ok)
}

func TestSourcePace(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		src, err := NewSource(ivfFile(t, "VP80", 1, 25,
			testFrame{0, keyFrame},
			testFrame{1, deltaFrame},
			testFrame{2, deltaFrame},
		), WithPace(true))
		require.NoError(t, err)

		start := time.Now()
		for range 3 {
			_, err := src.ReadFrame(t.Context())
			require.NoError(t, err)
		}
		assert.InDelta(t, 80*time.Millisecond, time.Since(start), float64(time.Millisecond))
	})
}

func TestSourcePaceByTimestamp(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		src, err := NewSource(ivfFile(t, "VP80", 1, 1000,
			testFrame{0, keyFrame},
			testFrame{33, deltaFrame},
			testFrame{67, deltaFrame},
		), WithPace(true), WithLogger(slog.New(slog.DiscardHandler)))
		require.NoError(t, err)

		start := time.Now()
		var released []time.Duration
		for range 3 {
			_, err := src.ReadFrame(t.Context())
			require.NoError(t, err)
			released = append(released, time.Since(start))
		}
		assert.InDelta(t, 0, released[0], float64(time.Millisecond))
		assert.InDelta(t, 33*time.Millisecond, released[1], float64(time.Millisecond))
		assert.InDelta(t, 67*time.Millisecond, released[2], float64(time.Millisecond))
	})
}

func TestSourceTimestampsFromFileTicks(t *testing.T) {
	testCases := []struct {
		name     string
		num, den uint32
		pts      []uint64
		expected []int64
	}{
		{name: "1/30", num: 1, den: 30, pts: []uint64{0, 1, 2}, expected: []int64{0, 3000, 6000}},
		{name: "1/1000", num: 1, den: 1000, pts: []uint64{0, 33, 67}, expected: []int64{0, 2970, 6030}},
		{name: "1/90000", num: 1, den: 90000, pts: []uint64{0, 3003, 6006}, expected: []int64{0, 3003, 6006}},
		{name: "1001/30000", num: 1001, den: 30000, pts: []uint64{0, 1, 2, 1000}, expected: []int64{0, 3003, 6006, 3003000}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var frames []testFrame
			for _, pts := range tc.pts {
				frames = append(frames, testFrame{pts, deltaFrame})
			}
			src, err := NewSource(ivfFile(t, "VP80", tc.num, tc.den, frames...), WithLogger(slog.New(slog.DiscardHandler)))
			require.NoError(t, err)

			var timestamps []int64
			for range tc.pts {
				f, err := src.ReadFrame(context.Background())
				require.NoError(t, err)
				timestamps = append(timestamps, f.Timestamp)
			}
			assert.Equal(t, tc.expected, timestamps)
		})
	}
}

func TestSourcePaceCancel(t *testing.T) {
	synctest.Test(t, func(t *testing.T) {
		src, err := NewSource(ivfFile(t, "VP80", 1, 1,
			testFrame{0, keyFrame},
			testFrame{1, deltaFrame},
		), WithPace(true))
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(t.Context())
		_, err = src.ReadFrame(ctx)
		require.NoError(t, err)

		cancel()
		_, err = src.ReadFrame(ctx)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestSinkAlignsSecondary(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aligned.ivf")
	f, err := os.Create(path)
	require.NoError(t, err)

	sink, err := NewSink(f)
	require.NoError(t, err)

	pairs := []framesync.Pair{
		{Primary: framesync.Frame{Timestamp: 0}, Secondary: framesync.Frame{Timestamp: 10, Payload: keyFrame}, Matched: true},
		{Primary: framesync.Frame{Timestamp: 3000}},
		{Primary: framesync.Frame{Timestamp: 6000}, Secondary: framesync.Frame{Timestamp: 6010, Payload: deltaFrame}, Matched: true},
		{Primary: framesync.Frame{Timestamp: 9000}, Secondary: framesync.Frame{Timestamp: 6010, Payload: deltaFrame}, Matched: true},
	}
	for _, p := range pairs {
		require.NoError(t, sink.WritePair(p))
	}
	require.NoError(t, sink.Close())

	rc, err := os.Open(path)
	require.NoError(t, err)
	src, err := NewSource(rc)
	require.NoError(t, err)
	defer src.Close()

	var payloads [][]byte
	var timestamps []int64
	for {
		frame, err := src.ReadFrame(context.Background())
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		payloads = append(payloads, frame.Payload)
		timestamps = append(timestamps, frame.Timestamp)
	}
	assert.Equal(t, [][]byte{keyFrame, deltaFrame, deltaFrame}, payloads)
	assert.Equal(t, []int64{0, 6000, 9000}, timestamps)
	assert.Equal(t, uint64(3), sink.written)
	assert.Equal(t, uint64(1), sink.skipped)
}

func TestSinkKeepsPrimaryTimestamps(t *testing.T) {
	testCases := []struct {
		name     string
		timebase framesync.Timebase
		primary  []int64
		expected []int64
	}{
		{
			name:     "60fps-90k",
			timebase: framesync.ClockRate90k,
			primary:  []int64{0, 1500, 3000, 4500, 6000, 7500},
			expected: []int64{0, 1500, 3000, 4500, 6000, 7500},
		},
		{
			name:     "milliseconds",
			timebase: framesync.Timebase{Num: 1, Den: 1000},
			primary:  []int64{500, 517, 533, 550},
			expected: []int64{0, 1530, 2970, 4500},
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "aligned.ivf")
			f, err := os.Create(path)
			require.NoError(t, err)

			sink, err := NewSink(f, SinkTimebase(tc.timebase), SinkLogger(slog.New(slog.DiscardHandler)))
			require.NoError(t, err)
			for i, ts := range tc.primary {
				payload := deltaFrame
				if i == 0 {
					payload = keyFrame
				}
				require.NoError(t, sink.WritePair(framesync.Pair{
					Primary:   framesync.Frame{Timestamp: ts},
					Secondary: framesync.Frame{Timestamp: ts, Payload: payload},
					Matched:   true,
				}))
			}
			require.NoError(t, sink.Close())

			rc, err := os.Open(path)
			require.NoError(t, err)
			src, err := NewSource(rc, WithLogger(slog.New(slog.DiscardHandler)))
			require.NoError(t, err)
			defer src.Close()
			assert.Equal(t, framesync.ClockRate90k, src.Info().Timebase)

			var timestamps []int64
			for {
				frame, err := src.ReadFrame(context.Background())
				if err == io.EOF {
					break
				}
				require.NoError(t, err)
				timestamps = append(timestamps, frame.Timestamp)
			}
			assert.Equal(t, tc.expected, timestamps)
		})
	}
}

func TestProbe(t *testing.T) {
	src, err := NewSource(ivfFile(t, "VP80", 1, 30,
		testFrame{0, keyFrame},
		testFrame{1, deltaFrame},
		testFrame{3, deltaFrame},
		testFrame{3, keyFrame},
		testFrame{4, deltaFrame},
	), WithLogger(slog.New(slog.DiscardHandler)))
	require.NoError(t, err)

	sum, err := Probe(context.Background(), src)
	require.NoError(t, err)

	assert.Equal(t, "VP80", sum.FourCC)
	assert.Equal(t, uint64(5), sum.Frames)
	assert.Equal(t, uint64(2), sum.KeyFrames)
	assert.Equal(t, uint64(20), sum.Bytes)
	assert.Equal(t, int64(0), sum.First)
	assert.Equal(t, int64(12000), sum.Last)
	assert.Equal(t, int64(0), sum.MinGap)
	assert.Equal(t, int64(6000), sum.MaxGap)
	assert.Equal(t, uint64(1), sum.NonIncreasing)
	assert.Equal(t, 4*time.Second/30, sum.Duration)
}

package subcmd

import (
	"context"
	"encoding/binary"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/mengelbart/framesync"
	"github.com/mengelbart/framesync/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeIVF writes a VP8 file with a 1/30 time base and one frame per pts.
func writeIVF(t *testing.T, path string, pts ...uint64) {
	t.Helper()
	header := make([]byte, 32)
	copy(header[0:], "DKIF")
	binary.LittleEndian.PutUint16(header[6:], 32)
	copy(header[8:], "VP80")
	binary.LittleEndian.PutUint16(header[12:], 640)
	binary.LittleEndian.PutUint16(header[14:], 480)
	binary.LittleEndian.PutUint32(header[16:], 30)
	binary.LittleEndian.PutUint32(header[20:], 1)
	binary.LittleEndian.PutUint32(header[24:], uint32(len(pts)))
	buf := header
	for _, p := range pts {
		frame := make([]byte, 12)
		binary.LittleEndian.PutUint32(frame[0:], 4)
		binary.LittleEndian.PutUint64(frame[4:], p)
		buf = append(buf, frame...)
		buf = append(buf, 0x00, 0x9d, 0x01, 0x2a)
	}
	require.NoError(t, os.WriteFile(path, buf, 0o600))
}

func TestLazyProducerOpenFailure(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	p := lazyOpen("secondary", config.StreamConfig{Source: filepath.Join(t.TempDir(), "missing.ivf")}, framesync.ClockRate90k, logger)

	_, err := p.Epoch(context.Background())
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = p.ReadFrame(context.Background())
	assert.ErrorIs(t, err, errNotOpened)
	assert.NoError(t, p.Close())
}

func TestSessionWithMissingSecondary(t *testing.T) {
	dir := t.TempDir()
	primaryPath := filepath.Join(dir, "primary.ivf")
	writeIVF(t, primaryPath, 0, 1, 2, 3)

	logger := slog.New(slog.DiscardHandler)
	tb := framesync.ClockRate90k
	primary := lazyOpen("primary", config.StreamConfig{Source: primaryPath}, tb, logger)
	secondary := lazyOpen("secondary", config.StreamConfig{Source: filepath.Join(dir, "missing.ivf")}, tb, logger)

	var pairs []framesync.Pair
	session, err := framesync.NewSession(framesync.SessionConfig{
		Primary:   framesync.StreamConfig{Name: "primary", Producer: primary},
		Secondary: framesync.StreamConfig{Name: "secondary", Producer: secondary},
		Writer: framesync.PairWriterFunc(func(p framesync.Pair) error {
			pairs = append(pairs, p)
			return nil
		}),
		Logger: logger,
	})
	require.NoError(t, err)
	require.NoError(t, session.Run(context.Background()))

	require.Len(t, pairs, 4)
	for i, p := range pairs {
		assert.False(t, p.Matched)
		assert.Equal(t, int64(i*3000), p.Primary.Timestamp)
	}
	stats := session.Stats()
	assert.Equal(t, uint64(4), stats.Sync.Unmatched)
	assert.True(t, stats.Secondary.Drained)
	assert.Zero(t, stats.Secondary.Enqueued)
}

func TestSessionWithMissingPrimary(t *testing.T) {
	dir := t.TempDir()
	secondaryPath := filepath.Join(dir, "secondary.ivf")
	writeIVF(t, secondaryPath, 0, 1, 2)

	logger := slog.New(slog.DiscardHandler)
	tb := framesync.ClockRate90k
	primary := lazyOpen("primary", config.StreamConfig{Source: filepath.Join(dir, "missing.ivf")}, tb, logger)
	secondary := lazyOpen("secondary", config.StreamConfig{Source: secondaryPath}, tb, logger)

	var pairs int
	session, err := framesync.NewSession(framesync.SessionConfig{
		Primary:   framesync.StreamConfig{Name: "primary", Producer: primary},
		Secondary: framesync.StreamConfig{Name: "secondary", Producer: secondary},
		Writer: framesync.PairWriterFunc(func(framesync.Pair) error {
			pairs++
			return nil
		}),
		Logger: logger,
	})
	require.NoError(t, err)
	require.NoError(t, session.Run(context.Background()))

	assert.Zero(t, pairs)
	stats := session.Stats()
	assert.True(t, stats.Primary.Drained)
	assert.True(t, stats.Secondary.Drained)
}

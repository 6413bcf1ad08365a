package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/pion/rtp"
)

type Format string

const (
	TextFormat Format = "text"
	JSONFormat Format = "json"
)

func ParseFormat(s string) (Format, error) {
	switch f := Format(s); f {
	case TextFormat, JSONFormat:
		return f, nil
	}
	return "", fmt.Errorf("unknown log format: %q", s)
}

func Configure(format Format, level slog.Level, writer io.Writer) {
	if writer == nil {
		writer = os.Stderr
	}
	slog.SetDefault(slog.New(NewHandler(format, level, writer)))
}

func NewHandler(format Format, level slog.Level, writer io.Writer) slog.Handler {
	ho := &slog.HandlerOptions{
		AddSource:   false,
		Level:       level,
		ReplaceAttr: nil,
	}
	switch format {
	case JSONFormat:
		return slog.NewJSONHandler(writer, ho)
	case TextFormat:
		return slog.NewTextHandler(writer, ho)
	default:
		panic(fmt.Sprintf("unexpected logging.format: %#v", format))
	}
}

// RTPLogger logs received RTP packets of one stream.
type RTPLogger struct {
	logger *slog.Logger
	seq    *Unwrapper[uint16]
}

func NewRTPLogger(stream string, logger *slog.Logger) *RTPLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &RTPLogger{
		logger: logger.With("stream", stream).WithGroup("rtp-packet"),
		seq:    &Unwrapper[uint16]{},
	}
}

func (l *RTPLogger) LogRTPPacket(header *rtp.Header, payloadLen int) {
	u := l.seq.Unwrap(header.SequenceNumber)
	l.logger.Debug(
		"rtp packet",
		"marker", header.Marker,
		"payload-type", header.PayloadType,
		"sequence-number", header.SequenceNumber,
		"unwrapped-sequence-number", u,
		"timestamp", header.Timestamp,
		"ssrc", header.SSRC,
		"payload-length", header.MarshalSize()+payloadLen,
	)
}

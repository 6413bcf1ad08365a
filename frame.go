package framesync

type AttributeKey int

const (
	IsKeyFrame AttributeKey = iota
	SequenceNumber
	PayloadSize
)

type Attributes map[any]any

// Frame is one timestamped unit of a stream. Timestamp is relative to the
// stream's epoch and expressed in the stream's time base.
type Frame struct {
	Timestamp  int64
	Payload    []byte
	Attributes Attributes
}

// KeyFrame reports whether the producer marked the frame as a key frame.
func (f Frame) KeyFrame() bool {
	v, ok := f.Attributes[IsKeyFrame]
	if !ok {
		return false
	}
	kf, ok := v.(bool)
	return ok && kf
}

// Pair is the result of resolving one primary frame against the secondary
// stream. Secondary is only valid if Matched is true.
type Pair struct {
	Primary   Frame
	Secondary Frame
	Matched   bool

	// Target is the absolute time the secondary was resolved against.
	Target int64
}

type PairWriter interface {
	WritePair(Pair) error
}

type PairWriterFunc func(Pair) error

func (f PairWriterFunc) WritePair(p Pair) error {
	return f(p)
}

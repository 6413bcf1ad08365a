package logging

// Unwrapper extends wrapping RTP sequence numbers or timestamps to a
// monotonic int64 time line. The first value maps to itself. A step is
// interpreted as the shorter distance on the circle, so values may also move
// backwards for reordered input.
type Unwrapper[T uint16 | uint32] struct {
	started bool
	last    T
	value   int64
}

func (u *Unwrapper[T]) Unwrap(v T) int64 {
	if !u.started {
		u.started = true
		u.last = v
		u.value = int64(v)
		return u.value
	}
	half := ^T(0)/2 + 1
	if delta := v - u.last; delta < half {
		u.value += int64(delta)
	} else {
		u.value -= int64(u.last - v)
	}
	u.last = v
	return u.value
}

package framesync

import (
	"errors"
	"fmt"
	"sync"
)

var ErrInvalidCapacity = errors.New("queue capacity must be positive")

type MatchStatus int

const (
	// MatchFound means Match.Frame is the resolved secondary frame.
	MatchFound MatchStatus = iota
	// MatchNotYet means the queue was empty but still open.
	MatchNotYet
	// MatchNone means the target is older than everything buffered, or the
	// queue was closed before a frame not earlier than the target arrived.
	MatchNone
)

func (s MatchStatus) String() string {
	switch s {
	case MatchFound:
		return "found"
	case MatchNotYet:
		return "not-yet"
	case MatchNone:
		return "none"
	default:
		return "unknown"
	}
}

// Match is the outcome of a pairing query. Head and Tail hold the absolute
// window of the queue at decision time and are only meaningful if HasWindow
// is set.
type Match struct {
	Frame     Frame
	Status    MatchStatus
	Head      int64
	Tail      int64
	HasWindow bool
	Discarded int
	Waited    bool
}

type QueueStats struct {
	Capacity      int    `json:"capacity"`
	Size          int    `json:"size"`
	HighWaterMark int    `json:"high-water-mark"`
	Enqueued      uint64 `json:"enqueued"`
	Dropped       uint64 `json:"dropped"`
	Epoch         int64  `json:"epoch"`
	HasEpoch      bool   `json:"has-epoch"`
	Closed        bool   `json:"closed"`
	Drained       bool   `json:"drained"`
}

// Queue is a bounded FIFO of frames with drop-oldest admission. It supports
// one producing and one consuming goroutine.
type Queue struct {
	lock sync.Mutex
	cond *sync.Cond

	frames   []Frame
	capacity int
	closed   bool

	epoch    int64
	hasEpoch bool

	highWater int
	enqueued  uint64
	dropped   uint64
}

func NewQueue(capacity int) (*Queue, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidCapacity, capacity)
	}
	q := &Queue{
		frames:   make([]Frame, 0, capacity),
		capacity: capacity,
	}
	q.cond = sync.NewCond(&q.lock)
	return q, nil
}

// SetEpoch attaches the stream's epoch offset. Only the first call has an
// effect; later calls return false.
func (q *Queue) SetEpoch(t0 int64) bool {
	q.lock.Lock()
	defer q.lock.Unlock()
	if q.hasEpoch {
		return false
	}
	q.epoch = t0
	q.hasEpoch = true
	return true
}

// Epoch returns the stream's epoch offset and whether it was set.
func (q *Queue) Epoch() (int64, bool) {
	q.lock.Lock()
	defer q.lock.Unlock()
	return q.epoch, q.hasEpoch
}

// Enqueue appends f, evicting the oldest frame if the queue is full. It
// returns false without modifying the queue if the queue is closed.
func (q *Queue) Enqueue(f Frame) bool {
	q.lock.Lock()
	defer q.lock.Unlock()

	if q.closed {
		return false
	}
	if len(q.frames) == q.capacity {
		q.frames[0] = Frame{}
		q.frames = q.frames[1:]
		q.dropped++
	}
	q.frames = append(q.frames, f)
	q.enqueued++
	q.highWater = max(q.highWater, len(q.frames))

	q.cond.Signal()
	return true
}

// Acquire blocks until a frame is available or the queue is closed. It
// returns false once the queue is closed and empty.
func (q *Queue) Acquire() (Frame, bool) {
	q.lock.Lock()
	defer q.lock.Unlock()

	for len(q.frames) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.frames) == 0 {
		return Frame{}, false
	}
	return q.popLocked(), true
}

// AcquireMatching resolves the frame whose absolute time (epoch + timestamp)
// is the first one not earlier than target. The epoch is read together with
// the frames, so a match never sees frames without the epoch they were
// enqueued under. Frames older than the match are discarded, the matched
// frame stays at the head of the queue so that later targets can resolve to
// it again.
//
// If the target lies beyond the buffered window, AcquireMatching blocks until
// more frames arrive or the queue is closed.
func (q *Queue) AcquireMatching(target int64) Match {
	return q.match(target, firstNotEarlier)
}

// AcquireNearest is like AcquireMatching but resolves to the frame nearest to
// target. If two frames are equally close, the later one is chosen.
func (q *Queue) AcquireNearest(target int64) Match {
	return q.match(target, nearest)
}

// pickFunc returns the index of the chosen frame. frames[idx] is the first
// frame with an absolute time not earlier than target.
type pickFunc func(frames []Frame, idx int, target, epoch int64) int

func firstNotEarlier(_ []Frame, idx int, _, _ int64) int {
	return idx
}

func nearest(frames []Frame, idx int, target, epoch int64) int {
	if idx == 0 {
		return idx
	}
	after := epoch + frames[idx].Timestamp - target
	before := target - (epoch + frames[idx-1].Timestamp)
	if before < after {
		return idx - 1
	}
	return idx
}

func (q *Queue) match(target int64, pick pickFunc) Match {
	q.lock.Lock()
	defer q.lock.Unlock()

	waited := false
	for {
		if len(q.frames) == 0 {
			if q.closed {
				return Match{Status: MatchNone, Waited: waited}
			}
			if !waited {
				return Match{Status: MatchNotYet}
			}
			q.cond.Wait()
			continue
		}

		epoch := q.epoch
		head := epoch + q.frames[0].Timestamp
		tail := epoch + q.frames[len(q.frames)-1].Timestamp
		m := Match{
			Head:      head,
			Tail:      tail,
			HasWindow: true,
			Waited:    waited,
		}

		if target < head {
			m.Status = MatchNone
			return m
		}
		if target > tail {
			if q.closed {
				m.Status = MatchNone
				return m
			}
			waited = true
			q.cond.Wait()
			continue
		}

		idx := 0
		for epoch+q.frames[idx].Timestamp < target {
			idx++
		}
		idx = pick(q.frames, idx, target, epoch)
		for range idx {
			q.popLocked()
		}
		m.Discarded = idx
		m.Frame = q.frames[0]
		m.Status = MatchFound
		return m
	}
}

func (q *Queue) popLocked() Frame {
	f := q.frames[0]
	q.frames[0] = Frame{}
	q.frames = q.frames[1:]
	return f
}

// IsDrained reports whether the queue is closed and empty. Once true, it
// stays true.
func (q *Queue) IsDrained() bool {
	q.lock.Lock()
	defer q.lock.Unlock()
	return q.closed && len(q.frames) == 0
}

func (q *Queue) IsClosed() bool {
	q.lock.Lock()
	defer q.lock.Unlock()
	return q.closed
}

// Close marks the queue closed and releases all waiters. If discard is set,
// buffered frames are dropped. Close may be called more than once.
func (q *Queue) Close(discard bool) {
	q.lock.Lock()
	defer q.lock.Unlock()

	q.closed = true
	if discard {
		clear(q.frames)
		q.frames = q.frames[:0]
	}
	q.cond.Broadcast()
}

func (q *Queue) Size() int {
	q.lock.Lock()
	defer q.lock.Unlock()
	return len(q.frames)
}

func (q *Queue) Capacity() int {
	return q.capacity
}

func (q *Queue) HighWaterMark() int {
	q.lock.Lock()
	defer q.lock.Unlock()
	return q.highWater
}

func (q *Queue) Dropped() uint64 {
	q.lock.Lock()
	defer q.lock.Unlock()
	return q.dropped
}

func (q *Queue) Stats() QueueStats {
	q.lock.Lock()
	defer q.lock.Unlock()
	return QueueStats{
		Capacity:      q.capacity,
		Size:          len(q.frames),
		HighWaterMark: q.highWater,
		Enqueued:      q.enqueued,
		Dropped:       q.dropped,
		Epoch:         q.epoch,
		HasEpoch:      q.hasEpoch,
		Closed:        q.closed,
		Drained:       q.closed && len(q.frames) == 0,
	}
}

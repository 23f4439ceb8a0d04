package event

import "sync"

// Stream hands events from producers to a single consumer. The channel is never closed; consumers
// select on Done as well.
type Stream struct {
	ch   chan Event
	done chan struct{}
	once sync.Once
}

func NewStream(size int) *Stream {
	return &Stream{
		ch:   make(chan Event, size),
		done: make(chan struct{}),
	}
}

func (that *Stream) C() <-chan Event {
	return that.ch
}

func (that *Stream) Done() <-chan struct{} {
	return that.done
}

// Emit blocks until the event is queued or the stream is closed.
func (that *Stream) Emit(ev Event) bool {
	select {
	case <-that.done:
		return false
	default:
	}

	select {
	case that.ch <- ev:
		return true
	case <-that.done:
		return false
	}
}

// Offer queues the event only if there is room. Frames use it so a slow consumer drops frames
// instead of stalling the stream.
func (that *Stream) Offer(ev Event) bool {
	select {
	case <-that.done:
		return false
	default:
	}

	select {
	case that.ch <- ev:
		return true
	default:
		return false
	}
}

func (that *Stream) Close() {
	that.once.Do(func() { close(that.done) })
}

// Package channel wraps Go channels behind small interfaces so the event
// loop's queue can be swapped for an unbuffered one in debug builds.
package channel

// Receiver provides read access to a channel.
type Receiver[T any] interface {
	Receive() <-chan T
	Len() int
}

// Sender provides write access to a channel.
type Sender[T any] interface {
	// Send blocks until the value is accepted.
	Send(T)
	// TrySend never blocks; it reports whether the value was accepted.
	TrySend(T) bool
	// SendUntil blocks until the value is accepted or done is closed.
	SendUntil(v T, done <-chan struct{}) bool
}

// Channel combines read and write access.
type Channel[T any] interface {
	Receiver[T]
	Sender[T]
	Close()
}

// Chan is a Channel backed by a plain chan T.
type Chan[T any] struct {
	ch chan T
}

var _ Channel[struct{}] = (*Chan[struct{}])(nil)

// NewBuffered returns a channel holding up to size values.
func NewBuffered[T any](size int) *Chan[T] {
	return &Chan[T]{ch: make(chan T, size)}
}

// NewUnbuffered returns a channel where every send waits for a receiver.
func NewUnbuffered[T any]() *Chan[T] {
	return &Chan[T]{ch: make(chan T)}
}

func (c *Chan[T]) Send(v T) {
	c.ch <- v
}

func (c *Chan[T]) TrySend(v T) bool {
	select {
	case c.ch <- v:
		return true
	default:
		return false
	}
}

func (c *Chan[T]) SendUntil(v T, done <-chan struct{}) bool {
	select {
	case c.ch <- v:
		return true
	case <-done:
		return false
	}
}

func (c *Chan[T]) Receive() <-chan T {
	return c.ch
}

// Len returns the number of buffered values; always 0 when unbuffered.
func (c *Chan[T]) Len() int {
	return len(c.ch)
}

func (c *Chan[T]) Close() {
	close(c.ch)
}

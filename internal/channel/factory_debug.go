//go:build debug

package channel

// New ignores size in debug builds: every Post waits for the loop, which
// surfaces ordering assumptions between posters.
func New[T any](size int) Channel[T] {
	return NewUnbuffered[T]()
}

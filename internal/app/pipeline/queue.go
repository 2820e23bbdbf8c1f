package pipeline

import "context"

// unboundedQueue forwards everything received on in to the returned channel,
// in order, buffering as much as needed so that senders on in never wait for
// the receiver. The returned channel is closed once in is closed and drained,
// or when ctx is done.
func unboundedQueue[T any](ctx context.Context, in <-chan T) <-chan T {
	out := make(chan T)
	go func() {
		defer close(out)
		var buffer []T
		for in != nil || len(buffer) > 0 {
			var send chan<- T
			var next T
			if len(buffer) > 0 {
				send = out
				next = buffer[0]
			}
			select {
			case item, ok := <-in:
				if !ok {
					in = nil
					continue
				}
				buffer = append(buffer, item)
			case send <- next:
				var zero T
				buffer[0] = zero
				buffer = buffer[1:]
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// emit sends node downstream unless ctx is done first.
func emit(ctx context.Context, out chan<- *Node, node *Node) error {
	select {
	case out <- node:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

package pipeline

import (
	"context"
	"sync"
)

// FutureHandle identifies a slot in a FutureTable.
type FutureHandle int

type future struct {
	done chan struct{}
	once sync.Once
	node *Node
	err  error
}

// FutureTable holds resolve-once slots for nodes whose bytes arrive later
// than the node itself. Slots are keyed by node kind and digest, so every
// node naming the same content shares one slot.
type FutureTable struct {
	mu      sync.Mutex
	futures []*future
	byKey   map[futureKey]FutureHandle
}

type futureKey struct {
	kind   Kind
	digest string
}

// NewFutureTable creates an empty FutureTable.
func NewFutureTable() *FutureTable {
	return &FutureTable{byKey: map[futureKey]FutureHandle{}}
}

// GetOrCreate returns the handle for the node's content, creating the slot on
// first use. created reports whether this call created it.
func (t *FutureTable) GetOrCreate(node *Node) (handle FutureHandle, created bool) {
	key := futureKey{kind: node.Kind, digest: node.Digest()}
	t.mu.Lock()
	defer t.mu.Unlock()
	if h, ok := t.byKey[key]; ok {
		return h, false
	}
	h := FutureHandle(len(t.futures))
	t.futures = append(t.futures, &future{done: make(chan struct{})})
	t.byKey[key] = h
	return h, true
}

// Len is the number of slots.
func (t *FutureTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.futures)
}

func (t *FutureTable) get(h FutureHandle) *future {
	t.mu.Lock()
	defer t.mu.Unlock()
	if int(h) < 0 || int(h) >= len(t.futures) {
		panic("pipeline: unknown future handle")
	}
	return t.futures[h]
}

// Resolve completes the slot with node. Only the first Resolve or Fail of a
// slot has an effect; the return value reports whether this one did.
func (t *FutureTable) Resolve(h FutureHandle, node *Node) bool {
	return t.complete(h, node, nil)
}

// Fail completes the slot with an error.
func (t *FutureTable) Fail(h FutureHandle, err error) bool {
	return t.complete(h, nil, err)
}

func (t *FutureTable) complete(h FutureHandle, node *Node, err error) bool {
	f := t.get(h)
	completed := false
	f.once.Do(func() {
		f.node = node
		f.err = err
		close(f.done)
		completed = true
	})
	return completed
}

// Await blocks until the slot is completed or ctx is done. Any number of
// callers may await the same slot.
func (t *FutureTable) Await(ctx context.Context, h FutureHandle) (*Node, error) {
	f := t.get(h)
	select {
	case <-f.done:
		return f.node, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Completion is a completed slot as yielded by AsCompleted.
type Completion struct {
	Handle FutureHandle
	Node   *Node
	Err    error
}

// AsCompleted yields each of the handles once, in the order they complete.
// The channel is closed after the last one.
func (t *FutureTable) AsCompleted(ctx context.Context, handles []FutureHandle) <-chan Completion {
	completions := make(chan Completion, len(handles))
	var wg sync.WaitGroup
	for _, h := range handles {
		wg.Add(1)
		go func() {
			defer wg.Done()
			node, err := t.Await(ctx, h)
			completions <- Completion{Handle: h, Node: node, Err: err}
		}()
	}
	go func() {
		wg.Wait()
		close(completions)
	}()
	return completions
}

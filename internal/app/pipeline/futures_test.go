package pipeline

import (
	"context"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
	"github.com/vleurgat/regsync/internal/app/database"
)

func manifestNode(dgst string) *Node {
	return &Node{Kind: KindManifest, Manifest: &database.Manifest{Digest: dgst}}
}

func TestFutureTable(t *testing.T) {
	ctx := t.Context()

	t.Run("get or create is idempotent per content", func(t *testing.T) {
		r := require.New(t)
		table := NewFutureTable()
		h1, created := table.GetOrCreate(manifestNode("sha256:aaa"))
		r.True(created)
		h2, created := table.GetOrCreate(manifestNode("sha256:aaa"))
		r.False(created)
		r.Equal(h1, h2)
		h3, created := table.GetOrCreate(manifestNode("sha256:bbb"))
		r.True(created)
		r.NotEqual(h1, h3)
		blob := &Node{Kind: KindBlob, Blob: &database.Blob{Digest: "sha256:aaa"}}
		h4, created := table.GetOrCreate(blob)
		r.True(created, "kinds do not share slots")
		r.NotEqual(h1, h4)
		r.Equal(3, table.Len())
	})

	t.Run("every awaiter sees the resolved node", func(t *testing.T) {
		r := require.New(t)
		table := NewFutureTable()
		h, _ := table.GetOrCreate(manifestNode("sha256:aaa"))
		resolved := manifestNode("sha256:aaa")

		var wg sync.WaitGroup
		results := make([]*Node, 2)
		for i := range results {
			wg.Add(1)
			go func() {
				defer wg.Done()
				node, err := table.Await(ctx, h)
				r.NoError(err)
				results[i] = node
			}()
		}
		r.True(table.Resolve(h, resolved))
		wg.Wait()
		r.Same(resolved, results[0])
		r.Same(resolved, results[1])

		r.False(table.Resolve(h, manifestNode("sha256:other")), "a slot resolves once")
		r.False(table.Fail(h, errors.New("too late")))
		node, err := table.Await(ctx, h)
		r.NoError(err)
		r.Same(resolved, node)
	})

	t.Run("failure reaches awaiters", func(t *testing.T) {
		r := require.New(t)
		table := NewFutureTable()
		h, _ := table.GetOrCreate(manifestNode("sha256:aaa"))
		boom := errors.New("boom")
		table.Fail(h, boom)
		_, err := table.Await(ctx, h)
		r.ErrorIs(err, boom)
	})

	t.Run("await honours the context", func(t *testing.T) {
		r := require.New(t)
		table := NewFutureTable()
		h, _ := table.GetOrCreate(manifestNode("sha256:aaa"))
		canceled, cancel := context.WithCancel(ctx)
		cancel()
		_, err := table.Await(canceled, h)
		r.ErrorIs(err, context.Canceled)
	})

	t.Run("as completed yields in resolution order", func(t *testing.T) {
		r := require.New(t)
		table := NewFutureTable()
		var handles []FutureHandle
		for _, d := range []string{"sha256:aaa", "sha256:bbb", "sha256:ccc"} {
			h, _ := table.GetOrCreate(manifestNode(d))
			handles = append(handles, h)
		}
		completions := table.AsCompleted(ctx, handles)

		var order []FutureHandle
		for _, i := range []int{2, 0, 1} {
			table.Resolve(handles[i], manifestNode("resolved"))
			c := <-completions
			r.NoError(c.Err)
			order = append(order, c.Handle)
		}
		r.Equal([]FutureHandle{handles[2], handles[0], handles[1]}, order)
		_, open := <-completions
		r.False(open)
	})

	t.Run("as completed of nothing is closed", func(t *testing.T) {
		r := require.New(t)
		_, open := <-NewFutureTable().AsCompleted(ctx, nil)
		r.False(open)
	})

	t.Run("unknown handle panics", func(t *testing.T) {
		r := require.New(t)
		r.Panics(func() { NewFutureTable().Resolve(FutureHandle(4), nil) })
	})
}

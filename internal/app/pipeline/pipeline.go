package pipeline

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Stage is one step of the sync. A stage reads nodes from in until it is
// closed, writes nodes to out and returns; out is closed for it.
type Stage interface {
	Run(ctx context.Context, in <-chan *Node, out chan<- *Node) error
}

// Run connects the stages in order and runs them concurrently. Each stage
// feeds the next through an unbounded queue. The first stage receives a
// closed input channel and the output of the last one is discarded. The first
// error, including a panic in a stage, cancels the others and is returned.
func Run(ctx context.Context, stages ...Stage) error {
	g, gctx := errgroup.WithContext(ctx)

	first := make(chan *Node)
	close(first)
	var in <-chan *Node = first
	for _, stage := range stages {
		out := make(chan *Node)
		stageIn := in
		g.Go(func() (err error) {
			defer close(out)
			defer func() {
				if r := recover(); r != nil {
					logrus.Errorf("stage %T panicked: %v\n%s", stage, r, debug.Stack())
					err = errors.Errorf("stage %s panicked: %v", stageName(stage), r)
				}
			}()
			if err := stage.Run(gctx, stageIn, out); err != nil {
				return errors.Wrapf(err, "stage %s", stageName(stage))
			}
			return nil
		})
		in = unboundedQueue[*Node](gctx, out)
	}
	last := in
	g.Go(func() error {
		for range last {
		}
		return nil
	})
	return g.Wait()
}

func stageName(stage Stage) string {
	if named, ok := stage.(fmt.Stringer); ok {
		return named.String()
	}
	return fmt.Sprintf("%T", stage)
}

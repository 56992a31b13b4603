package utils

import (
	"runtime"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/drpcorg/flatstate/flatstate_errors"
)

// FanOut runs every task on a pool bounded by the machine's parallelism and
// waits for all of them to finish. The first failure surfaces as
// ErrWorkerFailure carrying the underlying message.
func FanOut(tasks ...func() error) error {
	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for _, task := range tasks {
		g.Go(task)
	}
	if err := g.Wait(); err != nil {
		return errors.Wrap(flatstate_errors.ErrWorkerFailure, err.Error())
	}
	return nil
}

package optim

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/cwbudde/mppfit/internal/kernel"
)

// ChainBuilder creates the optimizer and kernel context of one chain. Each
// chain must get its own random source, partition and mark factory.
type ChainBuilder[S Scored] func(chain int) (*Optimizer[S], *kernel.Context, error)

// RunChains runs independent chains concurrently and returns every result
// together with the index of the best one. The first failing chain cancels
// the others.
func RunChains[S Scored](ctx context.Context, chains int, build ChainBuilder[S]) ([]*Result[S], int, error) {
	if chains < 1 {
		return nil, -1, fmt.Errorf("chains must be positive, got %d", chains)
	}

	results := make([]*Result[S], chains)
	g, gctx := errgroup.WithContext(ctx)
	for i := range chains {
		g.Go(func() error {
			o, kctx, err := build(i)
			if err != nil {
				return fmt.Errorf("chain %d: %w", i, err)
			}
			r, err := o.Run(gctx, kctx)
			if err != nil {
				return fmt.Errorf("chain %d: %w", i, err)
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, -1, err
	}

	best := 0
	for i, r := range results {
		if r.Best.Score() > results[best].Best.Score() {
			best = i
		}
	}
	return results, best, nil
}

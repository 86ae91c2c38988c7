package convergence

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"virtops"
)

// ConvergeFunc converges a single identity.
type ConvergeFunc func(ctx context.Context, id virtops.Identity) (Result, error)

// RunAll converges ids with at most limit running at once (limit <= 0 means
// no limit). A failing identity does not stop the others. Results are
// returned in the order of ids; the error joins every per-identity failure.
func RunAll(ctx context.Context, ids []virtops.Identity, limit int, converge ConvergeFunc) ([]Result, error) {
	results := make([]Result, len(ids))
	errs := make([]error, len(ids))

	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, id := range ids {
		g.Go(func() error {
			res, err := converge(ctx, id)
			res.Identity = id
			results[i] = res
			if err != nil {
				errs[i] = fmt.Errorf("converge %s: %w", id, err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return results, errors.Join(errs...)
}

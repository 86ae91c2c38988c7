//go:build !unix

package jsondir

import (
	"context"
	"fmt"

	"github.com/containerd/errdefs"

	"virtops"
)

func (s *Store) Lock(_ context.Context, id virtops.Identity) (func(), error) {
	return nil, fmt.Errorf("lock %s: %w", id, errdefs.ErrNotImplemented)
}

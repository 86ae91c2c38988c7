//go:build unix

package jsondir

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/containerd/errdefs"
	"golang.org/x/sys/unix"

	"virtops"
)

// Lock takes an exclusive, non-blocking flock on the identity's lock file.
// It fails with errdefs.ErrConflict while another process holds it.
func (s *Store) Lock(_ context.Context, id virtops.Identity) (func(), error) {
	if err := id.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", err, errdefs.ErrInvalidArgument)
	}
	path := s.lockPath(id)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create lock directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		_ = f.Close()
		if errors.Is(err, unix.EWOULDBLOCK) {
			return nil, fmt.Errorf("%s is being converged by another process: %w", id, errdefs.ErrConflict)
		}
		return nil, fmt.Errorf("lock %s: %w", id, err)
	}
	return func() {
		_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
		_ = f.Close()
	}, nil
}

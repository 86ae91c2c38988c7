package platform

import (
	"context"
	"fmt"
	"path/filepath"

	"virtops"
	"virtops/config"
	"virtops/convergence"
	"virtops/infra/jsondir"
	"virtops/infra/sqlite"
)

// Store is the state store the CLI works with.
type Store interface {
	convergence.Store
	SetDesired(ctx context.Context, id virtops.Identity, rec *virtops.Record) error
	Load(ctx context.Context, id virtops.Identity, slot virtops.Slot) (*virtops.Record, error)
	List(ctx context.Context, kind string) ([]virtops.Entry, error)
	Forget(ctx context.Context, id virtops.Identity) error
	Close() error
}

var (
	_ Store              = (*sqlite.Store)(nil)
	_ Store              = (*jsondir.Store)(nil)
	_ convergence.Locker = (*jsondir.Store)(nil)
)

// StorePath returns where the configured store keeps its data.
func StorePath(cfg *config.Config) string {
	if cfg.Store == config.StoreJSONDir {
		return filepath.Join(cfg.DataRoot, "states")
	}
	return filepath.Join(cfg.DataRoot, "virtops.db")
}

// OpenStore opens the store selected by cfg.
func OpenStore(cfg *config.Config) (Store, error) {
	path := StorePath(cfg)
	switch cfg.Store {
	case config.StoreSQLite:
		st, err := sqlite.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		return st, nil
	case config.StoreJSONDir:
		st, err := jsondir.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open jsondir store: %w", err)
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Store)
	}
}

// Package jsondir stores entity records as plain files, one directory per
// kind:
//
//	<root>/<kind>/current/<name>.json
//	<root>/<kind>/desired/<name>.{json,jsonc,yaml,yml,toml}
//
// Desired documents may be edited by hand in any format manifest reads;
// current documents are written by the store as JSON.
package jsondir

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/containerd/errdefs"

	"virtops"
	"virtops/manifest"
)

// Store implements convergence.Store and convergence.Locker on a directory
// tree.
type Store struct {
	root string
}

// Open creates root if needed and returns a store on it.
func Open(root string) (*Store, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("store root is required: %w", errdefs.ErrInvalidArgument)
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create store root: %w", err)
	}
	return &Store{root: root}, nil
}

// Root returns the store's directory.
func (s *Store) Root() string { return s.root }

func (s *Store) Close() error { return nil }

func (s *Store) GetStates(ctx context.Context, id virtops.Identity) (*virtops.Record, *virtops.Record, error) {
	current, err := s.read(ctx, id, virtops.SlotCurrent)
	if err != nil {
		return nil, nil, err
	}
	desired, err := s.read(ctx, id, virtops.SlotDesired)
	if err != nil {
		return nil, nil, err
	}
	if virtops.MatchStates(current, desired) {
		return nil, nil, nil
	}
	return current, desired, nil
}

func (s *Store) SetCurrent(_ context.Context, id virtops.Identity, rec *virtops.Record) error {
	if err := id.Validate(); err != nil {
		return fmt.Errorf("%s: %w", err, errdefs.ErrInvalidArgument)
	}
	path := s.slotPath(id, virtops.SlotCurrent, ".json")
	if rec == nil {
		return removeIfExists(path)
	}
	return writeRecord(path, rec, manifest.JSON)
}

// SetDesired writes desired as JSON, replacing a desired document of any
// format. A nil record removes it.
func (s *Store) SetDesired(_ context.Context, id virtops.Identity, rec *virtops.Record) error {
	if err := id.Validate(); err != nil {
		return fmt.Errorf("%s: %w", err, errdefs.ErrInvalidArgument)
	}
	existing, err := s.desiredFiles(id)
	if err != nil {
		return err
	}
	target := s.slotPath(id, virtops.SlotDesired, ".json")
	if rec != nil {
		if err := writeRecord(target, rec, manifest.JSON); err != nil {
			return err
		}
	}
	for _, path := range existing {
		if rec != nil && path == target {
			continue
		}
		if err := removeIfExists(path); err != nil {
			return err
		}
	}
	return nil
}

// Load returns one slot of id, or an errdefs.ErrNotFound error.
func (s *Store) Load(ctx context.Context, id virtops.Identity, slot virtops.Slot) (*virtops.Record, error) {
	rec, err := s.read(ctx, id, slot)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, fmt.Errorf("%s %s: %w", slot, id, errdefs.ErrNotFound)
	}
	return rec, nil
}

// List returns every identity under kind, or under every kind directory
// when kind is empty, sorted by identity.
func (s *Store) List(ctx context.Context, kind string) ([]virtops.Entry, error) {
	kinds := []string{kind}
	if kind == "" {
		dirs, err := os.ReadDir(s.root)
		if err != nil {
			return nil, fmt.Errorf("list kinds: %w", err)
		}
		kinds = kinds[:0]
		for _, d := range dirs {
			if d.IsDir() && !strings.HasPrefix(d.Name(), ".") {
				kinds = append(kinds, d.Name())
			}
		}
	}

	var out []virtops.Entry
	for _, k := range kinds {
		names, err := s.names(k)
		if err != nil {
			return nil, err
		}
		for _, name := range names {
			id := virtops.Identity{Kind: k, Name: name}
			e := virtops.Entry{Identity: id}
			if e.Current, err = s.read(ctx, id, virtops.SlotCurrent); err != nil {
				return nil, err
			}
			if e.Desired, err = s.read(ctx, id, virtops.SlotDesired); err != nil {
				return nil, err
			}
			e.UpdatedAt = s.modTime(id)
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Identity.String() < out[j].Identity.String() })
	return out, nil
}

// Forget removes every file of id, including its lock file.
func (s *Store) Forget(_ context.Context, id virtops.Identity) error {
	if err := id.Validate(); err != nil {
		return fmt.Errorf("%s: %w", err, errdefs.ErrInvalidArgument)
	}
	paths, err := s.desiredFiles(id)
	if err != nil {
		return err
	}
	paths = append(paths, s.slotPath(id, virtops.SlotCurrent, ".json"), s.lockPath(id))
	for _, p := range paths {
		if err := removeIfExists(p); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) read(_ context.Context, id virtops.Identity, slot virtops.Slot) (*virtops.Record, error) {
	if err := id.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", err, errdefs.ErrInvalidArgument)
	}
	var path string
	switch slot {
	case virtops.SlotCurrent:
		path = s.slotPath(id, slot, ".json")
	case virtops.SlotDesired:
		files, err := s.desiredFiles(id)
		if err != nil {
			return nil, err
		}
		switch len(files) {
		case 0:
			return nil, nil
		case 1:
			path = files[0]
		default:
			return nil, fmt.Errorf("desired state of %s is defined by %d files (%s): %w",
				id, len(files), strings.Join(files, ", "), errdefs.ErrConflict)
		}
	default:
		return nil, fmt.Errorf("unknown slot %q: %w", slot, errdefs.ErrInvalidArgument)
	}

	rec, err := manifest.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (s *Store) desiredFiles(id virtops.Identity) ([]string, error) {
	var out []string
	for _, ext := range manifest.Extensions {
		path := s.slotPath(id, virtops.SlotDesired, ext)
		if _, err := os.Stat(path); err == nil {
			out = append(out, path)
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("stat %s: %w", path, err)
		}
	}
	return out, nil
}

func (s *Store) names(kind string) ([]string, error) {
	seen := make(map[string]bool)
	for _, slot := range []virtops.Slot{virtops.SlotCurrent, virtops.SlotDesired} {
		entries, err := os.ReadDir(filepath.Join(s.root, kind, string(slot)))
		if errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("list %s/%s: %w", kind, slot, err)
		}
		for _, e := range entries {
			if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
				continue
			}
			if _, err := manifest.FormatFromPath(e.Name()); err != nil {
				continue
			}
			seen[virtops.NameFromPath(e.Name())] = true
		}
	}
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

func (s *Store) modTime(id virtops.Identity) time.Time {
	var latest time.Time
	paths, _ := s.desiredFiles(id)
	paths = append(paths, s.slotPath(id, virtops.SlotCurrent, ".json"))
	for _, p := range paths {
		if fi, err := os.Stat(p); err == nil && fi.ModTime().After(latest) {
			latest = fi.ModTime()
		}
	}
	return latest
}

func (s *Store) slotPath(id virtops.Identity, slot virtops.Slot, ext string) string {
	return filepath.Join(s.root, id.Kind, string(slot), id.Name+ext)
}

func (s *Store) lockPath(id virtops.Identity) string {
	return filepath.Join(s.root, id.Kind, "."+id.Name+".lock")
}

// writeRecord replaces path atomically with rec rendered in format.
func writeRecord(path string, rec *virtops.Record, format manifest.Format) error {
	data, err := manifest.Encode(rec, format)
	if err != nil {
		return fmt.Errorf("encode %s: %w", path, err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file for %s: %w", path, err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("sync %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", path, err)
	}
	return nil
}

// Package kvmimage manages qemu disk images, either downloaded from a URL
// or created locally with qemu-img, optionally on top of a backing image.
package kvmimage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"

	"virtops"
	"virtops/internal/command"
	"virtops/reconcile"
)

const Kind = "kvm-image"

const (
	FormatQCOW2 = "qcow2"
	FormatImg   = "img"

	SourceRemote = "remote"
	SourceLocal  = "local"
)

// Spec is the payload of a kvm-image record.
type Spec struct {
	ImagePath       string `json:"imagePath"`
	ImageFormat     string `json:"imageFormat"`
	ImageSource     string `json:"imageSource"`
	DownloadLink    string `json:"downloadLink,omitempty"`
	SizeInGB        int    `json:"sizeInGB,omitempty"`
	BaseImagePath   string `json:"baseImagePath,omitempty"`
	BaseImageFormat string `json:"baseImageFormat,omitempty"`
}

// Options are fixed for the lifetime of an operator.
type Options struct {
	Runner command.Runner
	// HTTP downloads remote images; http.DefaultClient when nil.
	HTTP *http.Client
	// QemuImg is the qemu-img binary, "qemu-img" when empty.
	QemuImg string
}

type Operator struct {
	name string
	opts Options
	log  *slog.Logger
}

var (
	_ reconcile.Operator  = (*Operator)(nil)
	_ reconcile.Validator = (*Operator)(nil)
)

func New(name string, opts Options) *Operator {
	if opts.HTTP == nil {
		opts.HTTP = http.DefaultClient
	}
	if opts.QemuImg == "" {
		opts.QemuImg = "qemu-img"
	}
	return &Operator{
		name: name,
		opts: opts,
		log:  slog.With("component", Kind, "name", name),
	}
}

// formatArg maps a record format to the qemu-img -f value.
func formatArg(format string) string {
	if format == FormatImg {
		return "raw"
	}
	return format
}

func validFormat(format string) bool {
	return format == FormatQCOW2 || format == FormatImg
}

func decode(r *virtops.Record) (Spec, error) {
	var s Spec
	if err := r.Decode(&s); err != nil {
		return Spec{}, &reconcile.ValidationError{Message: err.Error()}
	}
	return s, nil
}

func (o *Operator) Validate(desired *virtops.Record) error {
	s, err := decode(desired)
	if err != nil {
		return err
	}
	if s.ImagePath == "" {
		return reconcile.Invalid("imagePath", "is required")
	}
	if !filepath.IsAbs(s.ImagePath) {
		return reconcile.Invalid("imagePath", "%q must be absolute", s.ImagePath)
	}
	if got := virtops.NameFromPath(s.ImagePath); got != o.name {
		return reconcile.Invalid("imagePath", "file name %q must match the entity name %q", got, o.name)
	}
	if !validFormat(s.ImageFormat) {
		return reconcile.Invalid("imageFormat", "%q is not one of %s, %s", s.ImageFormat, FormatQCOW2, FormatImg)
	}
	if err := reconcile.RejectZero(desired, "sizeInGB"); err != nil {
		return err
	}
	if s.SizeInGB < 0 {
		return reconcile.Invalid("sizeInGB", "must not be negative")
	}

	switch s.ImageSource {
	case SourceRemote:
		if s.DownloadLink == "" {
			return reconcile.Invalid("downloadLink", "is required for remote images")
		}
		u, err := url.Parse(s.DownloadLink)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return reconcile.Invalid("downloadLink", "%q is not an http(s) URL", s.DownloadLink)
		}
		if s.BaseImagePath != "" {
			return reconcile.Invalid("baseImagePath", "only applies to local images")
		}
	case SourceLocal:
		if s.BaseImagePath == "" {
			if s.SizeInGB == 0 {
				return reconcile.Invalid("sizeInGB", "is required for local images without a base image")
			}
			break
		}
		if _, err := os.Stat(s.BaseImagePath); err != nil {
			return reconcile.Invalid("baseImagePath", "%v", err)
		}
		if !validFormat(s.BaseImageFormat) {
			return reconcile.Invalid("baseImageFormat", "%q is not one of %s, %s", s.BaseImageFormat, FormatQCOW2, FormatImg)
		}
	default:
		return reconcile.Invalid("imageSource", "%q is not one of %s, %s", s.ImageSource, SourceRemote, SourceLocal)
	}
	return nil
}

// SyncCurrent marks the image deleted when its file is gone.
func (o *Operator) SyncCurrent(_ context.Context, current *virtops.Record) (*virtops.Record, error) {
	if !current.Status.Exists() {
		return nil, nil
	}
	s, err := decode(current)
	if err != nil {
		return nil, err
	}
	_, err = os.Stat(s.ImagePath)
	if errors.Is(err, os.ErrNotExist) {
		o.log.Info("image file vanished", "path", s.ImagePath)
		return current.WithStatus(virtops.StatusDeleted), nil
	}
	return nil, err
}

// CreateEntity adopts an existing file at imagePath; otherwise it downloads
// or builds the image.
func (o *Operator) CreateEntity(ctx context.Context, desired *virtops.Record) (*virtops.Record, error) {
	s, err := decode(desired)
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(s.ImagePath); err == nil {
		o.log.Info("image already exists", "path", s.ImagePath)
		return desired.WithStatus(virtops.StatusActive), nil
	}
	if err := os.MkdirAll(filepath.Dir(s.ImagePath), 0o755); err != nil {
		return nil, fmt.Errorf("create image directory: %w", err)
	}

	switch s.ImageSource {
	case SourceRemote:
		if err := o.download(ctx, s.DownloadLink, s.ImagePath); err != nil {
			return nil, err
		}
		if s.SizeInGB > 0 {
			if err := o.resize(ctx, s); err != nil {
				return nil, reconcile.Partial(err)
			}
		}
	default:
		if err := o.build(ctx, s); err != nil {
			return nil, reconcile.Partial(err)
		}
	}
	return desired.WithStatus(virtops.StatusActive), nil
}

func (o *Operator) DestroyEntity(_ context.Context, current *virtops.Record) error {
	s, err := decode(current)
	if err != nil {
		return err
	}
	if err := os.Remove(s.ImagePath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove image: %w", err)
	}
	o.log.Info("image removed", "path", s.ImagePath)
	return nil
}

func (o *Operator) ChangeFunctions() []reconcile.ChangeFunc {
	return []reconcile.ChangeFunc{
		{Name: "resize", Apply: o.changeSize},
		{Name: "rebuild", Apply: o.rebuild},
	}
}

// changeSize grows the image in place. Shrinking is refused because it
// would truncate the guest filesystem.
func (o *Operator) changeSize(ctx context.Context, current, desired *virtops.Record) (*virtops.Record, error) {
	cur, want, err := decodePair(current, desired)
	if err != nil || needsRebuild(cur, want) || want.SizeInGB == 0 || want.SizeInGB == cur.SizeInGB {
		return nil, err
	}
	if want.SizeInGB < cur.SizeInGB {
		return nil, fmt.Errorf("cannot shrink %s from %dG to %dG", cur.ImagePath, cur.SizeInGB, want.SizeInGB)
	}
	if err := o.resize(ctx, want); err != nil {
		return nil, err
	}
	o.log.Info("image resized", "from_gb", cur.SizeInGB, "to_gb", want.SizeInGB)
	return current.With("sizeInGB", want.SizeInGB), nil
}

// rebuild replaces the image when anything but its size changed.
func (o *Operator) rebuild(ctx context.Context, current, desired *virtops.Record) (*virtops.Record, error) {
	cur, want, err := decodePair(current, desired)
	if err != nil || !needsRebuild(cur, want) {
		return nil, err
	}
	o.log.Info("rebuilding image", "path", want.ImagePath)
	if err := o.DestroyEntity(ctx, current); err != nil {
		return nil, err
	}
	created, err := o.CreateEntity(ctx, desired)
	if err != nil {
		return nil, reconcile.Partial(err)
	}
	return created, nil
}

func needsRebuild(cur, want Spec) bool {
	cur.SizeInGB, want.SizeInGB = 0, 0
	return cur != want
}

func (o *Operator) build(ctx context.Context, s Spec) error {
	args := []string{"create", "-f", formatArg(s.ImageFormat)}
	if s.BaseImagePath != "" {
		args = append(args, "-b", s.BaseImagePath, "-F", formatArg(s.BaseImageFormat))
	}
	args = append(args, s.ImagePath)
	if s.SizeInGB > 0 {
		args = append(args, sizeArg(s.SizeInGB))
	}
	if _, err := o.opts.Runner.Run(ctx, o.opts.QemuImg, args...); err != nil {
		return err
	}
	o.log.Info("image created", "path", s.ImagePath, "base", s.BaseImagePath)
	return nil
}

func (o *Operator) resize(ctx context.Context, s Spec) error {
	_, err := o.opts.Runner.Run(ctx, o.opts.QemuImg, "resize", "-f", formatArg(s.ImageFormat), s.ImagePath, sizeArg(s.SizeInGB))
	return err
}

func sizeArg(gb int) string { return strconv.Itoa(gb) + "G" }

// download fetches link into a sibling temporary file and renames it into
// place, so path only ever holds a complete image.
func (o *Operator) download(ctx context.Context, link, path string) error {
	o.log.Info("downloading image", "url", link, "path", path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return fmt.Errorf("build download request: %w", err)
	}
	resp, err := o.opts.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("download %s: %w", link, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download %s: unexpected status %s", link, resp.Status)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.part")
	if err != nil {
		return fmt.Errorf("create download file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.ReadFrom(resp.Body); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("download %s: %w", link, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close download file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("move download into place: %w", err)
	}
	return nil
}

func decodePair(current, desired *virtops.Record) (Spec, Spec, error) {
	cur, err := decode(current)
	if err != nil {
		return Spec{}, Spec{}, err
	}
	want, err := decode(desired)
	if err != nil {
		return Spec{}, Spec{}, err
	}
	return cur, want, nil
}

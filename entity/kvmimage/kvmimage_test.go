package kvmimage

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/containerd/errdefs"

	"virtops"
	"virtops/convergence"
	"virtops/internal/fake"
	"virtops/internal/fault"
	"virtops/reconcile"
)

var imageID = virtops.Identity{Kind: Kind, Name: "base"}

type env struct {
	dir    string
	path   string
	runner *fake.Runner
	store  *fake.Store
	loop   *convergence.Loop
}

// newEnv fakes qemu-img so that "create" writes the image file.
func newEnv(t *testing.T, client *http.Client) *env {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "images", "base.qcow2")
	runner := fake.NewRunner()
	runner.Faults = fault.NewInjector()
	runner.On("qemu-img create", func([]string) ([]byte, error) {
		return nil, os.WriteFile(path, []byte("qcow"), 0o644)
	})
	store := fake.NewStore()
	op := New(imageID.Name, Options{Runner: runner, HTTP: client})
	return &env{
		dir:    dir,
		path:   path,
		runner: runner,
		store:  store,
		loop:   convergence.New(store, reconcile.New(op)),
	}
}

func (e *env) apply(t *testing.T, fields virtops.Fields) (convergence.Result, error) {
	t.Helper()
	ctx := context.Background()
	if err := e.store.SetDesired(ctx, imageID, virtops.MustRecord(virtops.StatusActive, fields)); err != nil {
		t.Fatal(err)
	}
	return e.loop.Converge(ctx, imageID)
}

func (e *env) local(size int) virtops.Fields {
	return virtops.Fields{"imagePath": e.path, "imageFormat": "qcow2", "imageSource": "local", "sizeInGB": size}
}

func TestValidate(t *testing.T) {
	dir := t.TempDir()
	basePath := filepath.Join(dir, "ubuntu.img")
	if err := os.WriteFile(basePath, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "base.qcow2")

	tests := []struct {
		name    string
		fields  virtops.Fields
		wantErr bool
	}{
		{name: "local sized", fields: virtops.Fields{"imagePath": path, "imageFormat": "qcow2", "imageSource": "local", "sizeInGB": 10}},
		{name: "local backed", fields: virtops.Fields{"imagePath": path, "imageFormat": "qcow2", "imageSource": "local", "baseImagePath": basePath, "baseImageFormat": "img"}},
		{name: "remote", fields: virtops.Fields{"imagePath": path, "imageFormat": "img", "imageSource": "remote", "downloadLink": "https://example.com/u.img"}},
		{name: "missing path", fields: virtops.Fields{"imageFormat": "qcow2", "imageSource": "local", "sizeInGB": 10}, wantErr: true},
		{name: "relative path", fields: virtops.Fields{"imagePath": "base.qcow2", "imageFormat": "qcow2", "imageSource": "local", "sizeInGB": 10}, wantErr: true},
		{name: "name mismatch", fields: virtops.Fields{"imagePath": filepath.Join(dir, "other.qcow2"), "imageFormat": "qcow2", "imageSource": "local", "sizeInGB": 10}, wantErr: true},
		{name: "bad format", fields: virtops.Fields{"imagePath": path, "imageFormat": "vmdk", "imageSource": "local", "sizeInGB": 10}, wantErr: true},
		{name: "bad source", fields: virtops.Fields{"imagePath": path, "imageFormat": "qcow2", "imageSource": "s3", "sizeInGB": 10}, wantErr: true},
		{name: "remote without link", fields: virtops.Fields{"imagePath": path, "imageFormat": "qcow2", "imageSource": "remote"}, wantErr: true},
		{name: "remote ftp link", fields: virtops.Fields{"imagePath": path, "imageFormat": "qcow2", "imageSource": "remote", "downloadLink": "ftp://example.com/u.img"}, wantErr: true},
		{name: "fractional size", fields: virtops.Fields{"imagePath": path, "imageFormat": "qcow2", "imageSource": "local", "sizeInGB": 1.5}, wantErr: true},
		{name: "explicit zero size", fields: virtops.Fields{"imagePath": path, "imageFormat": "img", "imageSource": "remote", "downloadLink": "https://example.com/u.img", "sizeInGB": 0}, wantErr: true},
		{name: "local without size", fields: virtops.Fields{"imagePath": path, "imageFormat": "qcow2", "imageSource": "local"}, wantErr: true},
		{name: "missing base", fields: virtops.Fields{"imagePath": path, "imageFormat": "qcow2", "imageSource": "local", "baseImagePath": filepath.Join(dir, "nope.img"), "baseImageFormat": "img"}, wantErr: true},
		{name: "base without format", fields: virtops.Fields{"imagePath": path, "imageFormat": "qcow2", "imageSource": "local", "baseImagePath": basePath}, wantErr: true},
	}
	op := New("base", Options{Runner: fake.NewRunner()})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := op.Validate(virtops.MustRecord(virtops.StatusActive, tt.fields))
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errdefs.IsInvalidArgument(err) {
				t.Errorf("Validate() error = %v, want invalid argument", err)
			}
		})
	}
}

func TestConverge_LocalCreateResizeDestroy(t *testing.T) {
	e := newEnv(t, nil)
	res, err := e.apply(t, e.local(10))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !slices.Equal(res.Actions, []string{"create"}) {
		t.Fatalf("Actions = %v, want [create]", res.Actions)
	}
	if !e.runner.Ran("qemu-img create -f qcow2 " + e.path + " 10G") {
		t.Fatalf("commands = %v", e.runner.Lines())
	}

	res, err = e.apply(t, e.local(20))
	if err != nil {
		t.Fatalf("resize: %v", err)
	}
	if !slices.Equal(res.Actions, []string{"change resize"}) {
		t.Fatalf("Actions = %v, want [change resize]", res.Actions)
	}
	if !e.runner.Ran("qemu-img resize -f qcow2 " + e.path + " 20G") {
		t.Fatalf("commands = %v", e.runner.Lines())
	}

	ctx := context.Background()
	if err := e.store.SetDesired(ctx, imageID, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := e.loop.Converge(ctx, imageID); err != nil {
		t.Fatalf("destroy: %v", err)
	}
	if _, err := os.Stat(e.path); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("image file still present: %v", err)
	}
}

func TestConverge_ShrinkIsRefused(t *testing.T) {
	e := newEnv(t, nil)
	if _, err := e.apply(t, e.local(20)); err != nil {
		t.Fatal(err)
	}
	_, err := e.apply(t, e.local(10))
	var actionErr *reconcile.ActionError
	if !errors.As(err, &actionErr) || actionErr.Change != "resize" {
		t.Fatalf("Converge() error = %v, want resize failure", err)
	}
	if got := e.store.Current(imageID).Status; got != virtops.StatusActive {
		t.Errorf("status = %v, want active", got)
	}
}

func TestConverge_BackedImage(t *testing.T) {
	e := newEnv(t, nil)
	basePath := filepath.Join(e.dir, "ubuntu.img")
	if err := os.WriteFile(basePath, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := e.apply(t, virtops.Fields{
		"imagePath": e.path, "imageFormat": "qcow2", "imageSource": "local",
		"baseImagePath": basePath, "baseImageFormat": "img",
	})
	if err != nil {
		t.Fatal(err)
	}
	want := "qemu-img create -f qcow2 -b " + basePath + " -F raw " + e.path
	if !slices.Contains(e.runner.Lines(), want) {
		t.Errorf("commands = %v, want %q", e.runner.Lines(), want)
	}
}

func TestConverge_RebuildOnFormatChange(t *testing.T) {
	e := newEnv(t, nil)
	if _, err := e.apply(t, e.local(10)); err != nil {
		t.Fatal(err)
	}
	fields := e.local(10)
	fields["imageFormat"] = "img"
	res, err := e.apply(t, fields)
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(res.Actions, []string{"change rebuild"}) {
		t.Fatalf("Actions = %v, want [change rebuild]", res.Actions)
	}
	if !e.runner.Ran("qemu-img create -f raw " + e.path + " 10G") {
		t.Errorf("commands = %v", e.runner.Lines())
	}
}

func TestConverge_VanishedFileIsRecreated(t *testing.T) {
	e := newEnv(t, nil)
	if _, err := e.apply(t, e.local(10)); err != nil {
		t.Fatal(err)
	}
	if err := os.Remove(e.path); err != nil {
		t.Fatal(err)
	}
	r := reconcile.New(New(imageID.Name, Options{Runner: e.runner}))
	out, err := r.Run(context.Background(), e.store.Current(imageID), e.store.Desired(imageID))
	if err != nil {
		t.Fatal(err)
	}
	if out.Action != reconcile.ActionSync || out.Current.Status != virtops.StatusDeleted {
		t.Fatalf("Run() = %s %v, want sync to deleted", out.Label(), out.Current.Status)
	}
}

func TestConverge_QemuFailureIsPartial(t *testing.T) {
	e := newEnv(t, nil)
	boom := errors.New("qemu-img: Could not create")
	e.runner.Faults.FailOnce("qemu-img", boom)
	if _, err := e.apply(t, e.local(10)); !errors.Is(err, boom) {
		t.Fatalf("Converge() error = %v, want %v", err, boom)
	}
	if got := e.store.Current(imageID).Status; got != virtops.StatusError {
		t.Fatalf("status = %v, want error", got)
	}
	res, err := e.loop.Converge(context.Background(), imageID)
	if err != nil || !slices.Equal(res.Actions, []string{"create"}) {
		t.Fatalf("retry = %v, %v", res.Actions, err)
	}
}

func TestConverge_Download(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/cloud.img" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte("image-bytes"))
	}))
	t.Cleanup(srv.Close)

	e := newEnv(t, srv.Client())
	remote := virtops.Fields{"imagePath": e.path, "imageFormat": "qcow2", "imageSource": "remote", "downloadLink": srv.URL + "/cloud.img"}
	if _, err := e.apply(t, remote); err != nil {
		t.Fatalf("Converge() error = %v", err)
	}
	data, err := os.ReadFile(e.path)
	if err != nil || string(data) != "image-bytes" {
		t.Fatalf("image = %q, %v", data, err)
	}
	if len(e.runner.Lines()) != 0 {
		t.Errorf("unexpected commands %v", e.runner.Lines())
	}
}

func TestConverge_DownloadNotFoundLeavesNothing(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(srv.Close)

	e := newEnv(t, srv.Client())
	remote := virtops.Fields{"imagePath": e.path, "imageFormat": "qcow2", "imageSource": "remote", "downloadLink": srv.URL + "/missing.img"}
	if _, err := e.apply(t, remote); err == nil {
		t.Fatal("Converge() expected error")
	}
	if e.store.Current(imageID) != nil {
		t.Errorf("current = %+v, want none after a clean failure", e.store.Current(imageID))
	}
	entries, _ := os.ReadDir(filepath.Dir(e.path))
	if len(entries) != 0 {
		t.Errorf("leftover files: %v", entries)
	}
}

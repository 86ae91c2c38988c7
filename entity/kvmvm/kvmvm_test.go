package kvmvm

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/containerd/errdefs"

	"virtops"
	"virtops/convergence"
	"virtops/internal/fake"
	"virtops/internal/fault"
	"virtops/reconcile"
)

var vmID = virtops.Identity{Kind: Kind, Name: "web"}

// hypervisor simulates the virsh, virt-install and genisoimage commands.
type hypervisor struct {
	mu      sync.Mutex
	domains map[string]string
}

func (h *hypervisor) install(r *fake.Runner) {
	r.On("virsh list", func([]string) ([]byte, error) {
		h.mu.Lock()
		defer h.mu.Unlock()
		var names []string
		for name := range h.domains {
			names = append(names, name)
		}
		slices.Sort(names)
		return []byte(strings.Join(names, "\n") + "\n"), nil
	})
	r.On("virsh domstate", func(args []string) ([]byte, error) {
		h.mu.Lock()
		defer h.mu.Unlock()
		state, ok := h.domains[args[1]]
		if !ok {
			return nil, errors.New("failed to get domain")
		}
		return []byte(state + "\n\n"), nil
	})
	r.On("virsh define", func(args []string) ([]byte, error) {
		return nil, h.set(strings.TrimSuffix(strings.TrimPrefix(filepath.Base(args[1]), "vm_def_"), ".xml"), "shut off")
	})
	r.On("virsh start", func(args []string) ([]byte, error) { return nil, h.set(args[1], "running") })
	r.On("virsh shutdown", func(args []string) ([]byte, error) { return nil, h.set(args[1], "shut off") })
	r.On("virsh destroy", func(args []string) ([]byte, error) { return nil, h.set(args[1], "shut off") })
	r.On("virsh undefine", func(args []string) ([]byte, error) {
		h.mu.Lock()
		defer h.mu.Unlock()
		delete(h.domains, args[1])
		return nil, nil
	})
	r.On("virt-install", func([]string) ([]byte, error) { return []byte("<domain/>\n"), nil })
	r.On("genisoimage", func(args []string) ([]byte, error) {
		return nil, os.WriteFile(args[1], []byte("iso"), 0o644)
	})
}

func (h *hypervisor) set(name, state string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.domains[name] = state
	return nil
}

func (h *hypervisor) state(name string) (string, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.domains[name]
	return s, ok
}

type env struct {
	dir    string
	hv     *hypervisor
	runner *fake.Runner
	store  *fake.Store
	loop   *convergence.Loop
}

func newEnv(t *testing.T) *env {
	t.Helper()
	hv := &hypervisor{domains: make(map[string]string)}
	runner := fake.NewRunner()
	runner.Faults = fault.NewInjector()
	hv.install(runner)
	store := fake.NewStore()
	op := New(vmID.Name, Options{Runner: runner})
	return &env{
		dir:    t.TempDir(),
		hv:     hv,
		runner: runner,
		store:  store,
		loop:   convergence.New(store, reconcile.New(op)),
	}
}

func (e *env) fields() virtops.Fields {
	return virtops.Fields{
		"vmPath":       filepath.Join(e.dir, "web"),
		"smp":          2,
		"ramInGB":      4,
		"disks":        []any{map[string]any{"diskPath": "{vmPath}/root.qcow2"}},
		"networks":     []any{map[string]any{"ifaceType": "bridge", "bridgeName": "br0", "macAddress": "0e:00:00:00:00:01", "useDHCP4": true}},
		"osType":       "linux",
		"osVariant":    "ubuntu22.04",
		"vmState":      "running",
		"useCloudInit": false,
	}
}

func (e *env) apply(t *testing.T, fields virtops.Fields) (convergence.Result, error) {
	t.Helper()
	ctx := context.Background()
	if err := e.store.SetDesired(ctx, vmID, virtops.MustRecord(virtops.StatusActive, fields)); err != nil {
		t.Fatal(err)
	}
	return e.loop.Converge(ctx, vmID)
}

func TestValidate(t *testing.T) {
	e := newEnv(t)
	with := func(key string, value any) virtops.Fields {
		f := e.fields()
		if value == nil {
			delete(f, key)
		} else {
			f[key] = value
		}
		return f
	}
	staticNet := map[string]any{"ifaceType": "macvtap", "bridgeName": "eth0", "macAddress": "0e:00:00:00:00:02", "useDHCP4": false, "ip4": "10.0.0.5/24", "gateway4": "10.0.0.1"}

	tests := []struct {
		name    string
		fields  virtops.Fields
		wantErr bool
	}{
		{name: "valid", fields: e.fields()},
		{name: "cloud-init static", fields: func() virtops.Fields {
			f := with("useCloudInit", true)
			f["ciIsoPath"] = "seed.iso"
			f["networks"] = []any{staticNet}
			return f
		}()},
		{name: "relative vmPath", fields: with("vmPath", "web"), wantErr: true},
		{name: "zero smp", fields: with("smp", 0), wantErr: true},
		{name: "fractional ram", fields: with("ramInGB", 1.5), wantErr: true},
		{name: "no disks", fields: with("disks", []any{}), wantErr: true},
		{name: "disk without path", fields: with("disks", []any{map[string]any{}}), wantErr: true},
		{name: "no networks", fields: with("networks", nil), wantErr: true},
		{name: "bad iface type", fields: with("networks", []any{map[string]any{"ifaceType": "tap", "bridgeName": "br0"}}), wantErr: true},
		{name: "bridge without name", fields: with("networks", []any{map[string]any{"ifaceType": "bridge"}}), wantErr: true},
		{name: "private tap mode", fields: with("networks", []any{map[string]any{"ifaceType": "macvtap", "bridgeName": "eth0", "tapMode": "private"}}), wantErr: true},
		{name: "cloud-init without iso", fields: with("useCloudInit", true), wantErr: true},
		{name: "missing useCloudInit", fields: with("useCloudInit", nil), wantErr: true},
		{name: "cloud-init without mac", fields: func() virtops.Fields {
			f := with("useCloudInit", true)
			f["ciIsoPath"] = "seed.iso"
			f["networks"] = []any{map[string]any{"ifaceType": "bridge", "bridgeName": "br0", "useDHCP4": true}}
			return f
		}(), wantErr: true},
		{name: "cloud-init bad gateway", fields: func() virtops.Fields {
			f := with("useCloudInit", true)
			f["ciIsoPath"] = "seed.iso"
			bad := map[string]any{}
			for k, v := range staticNet {
				bad[k] = v
			}
			bad["gateway4"] = "10.0.0"
			f["networks"] = []any{bad}
			return f
		}(), wantErr: true},
		{name: "windows", fields: with("osType", "windows"), wantErr: true},
		{name: "no variant", fields: with("osVariant", nil), wantErr: true},
		{name: "notExists state", fields: with("vmState", "notExists"), wantErr: true},
		{name: "unknown state", fields: with("vmState", "paused"), wantErr: true},
	}
	op := New("web", Options{Runner: fake.NewRunner()})
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

func TestConverge_DefineAndStart(t *testing.T) {
	e := newEnv(t)
	res, err := e.apply(t, e.fields())
	if err != nil {
		t.Fatalf("Converge() error = %v", err)
	}
	if !slices.Equal(res.Actions, []string{"create"}) {
		t.Fatalf("Actions = %v, want [create]", res.Actions)
	}
	if state, _ := e.hv.state("web"); state != "running" {
		t.Errorf("domain state = %q, want running", state)
	}

	vmPath := filepath.Join(e.dir, "web")
	wantInstall := "virt-install --print-xml --name web --os-variant ubuntu22.04 --memory 4096 --vcpus 2" +
		" --disk path=" + filepath.Join(vmPath, "root.qcow2") +
		" --network bridge=br0,model=virtio,mac=0e:00:00:00:00:01" +
		" --graphics none --console pty,target_type=serial"
	if !slices.Contains(e.runner.Lines(), wantInstall) {
		t.Errorf("commands = %q\nwant %q", e.runner.Lines(), wantInstall)
	}
	xml, err := os.ReadFile(filepath.Join(vmPath, "vm_def_web.xml"))
	if err != nil || string(xml) != "<domain/>\n" {
		t.Errorf("domain xml = %q, %v", xml, err)
	}
}

func TestConverge_AdoptsExistingDomain(t *testing.T) {
	e := newEnv(t)
	_ = e.hv.set("web", "running")
	if _, err := e.apply(t, e.fields()); err != nil {
		t.Fatal(err)
	}
	if e.runner.Ran("virsh define") || e.runner.Ran("virt-install") {
		t.Errorf("existing domain was redefined: %v", e.runner.Lines())
	}
}

func TestConverge_StopAndResize(t *testing.T) {
	e := newEnv(t)
	if _, err := e.apply(t, e.fields()); err != nil {
		t.Fatal(err)
	}
	f := e.fields()
	f["vmState"] = "stopped"
	f["smp"] = 4
	f["ramInGB"] = 2
	res, err := e.apply(t, f)
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(res.Actions, []string{"change resources", "change vmState"}) {
		t.Fatalf("Actions = %v", res.Actions)
	}
	wantOrder := []string{
		"virsh setvcpus web 4 --config --maximum",
		"virsh setvcpus web 4 --config",
		"virsh setmem web 2G --config",
		"virsh setmaxmem web 2G --config",
		"virsh shutdown web",
	}
	var got []string
	for _, l := range e.runner.Lines() {
		if strings.HasPrefix(l, "virsh set") || strings.HasPrefix(l, "virsh shutdown") {
			got = append(got, l)
		}
	}
	if !slices.Equal(got, wantOrder) {
		t.Errorf("commands = %q\nwant %q", got, wantOrder)
	}
}

func TestConverge_RedefineOnNetworkChange(t *testing.T) {
	e := newEnv(t)
	if _, err := e.apply(t, e.fields()); err != nil {
		t.Fatal(err)
	}
	f := e.fields()
	f["networks"] = []any{map[string]any{"ifaceType": "bridge", "bridgeName": "br1"}}
	res, err := e.apply(t, f)
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(res.Actions, []string{"change redefine"}) {
		t.Fatalf("Actions = %v", res.Actions)
	}
	for _, want := range []string{"virsh destroy web", "virsh undefine web"} {
		if !e.runner.Ran(want) {
			t.Errorf("%q not run: %v", want, e.runner.Lines())
		}
	}
	if state, _ := e.hv.state("web"); state != "running" {
		t.Errorf("state = %q after redefine", state)
	}
}

func TestConverge_DeleteUndefines(t *testing.T) {
	e := newEnv(t)
	if _, err := e.apply(t, e.fields()); err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	if err := e.store.SetDesired(ctx, vmID, virtops.MustRecord(virtops.StatusDeleted, nil)); err != nil {
		t.Fatal(err)
	}
	res, err := e.loop.Converge(ctx, vmID)
	if err != nil || !slices.Equal(res.Actions, []string{"destroy"}) {
		t.Fatalf("Converge() = %v, %v", res.Actions, err)
	}
	if _, ok := e.hv.state("web"); ok {
		t.Error("domain still defined")
	}
}

func TestSync_UndefinedDomainIsDeleted(t *testing.T) {
	e := newEnv(t)
	if _, err := e.apply(t, e.fields()); err != nil {
		t.Fatal(err)
	}
	e.hv.mu.Lock()
	delete(e.hv.domains, "web")
	e.hv.mu.Unlock()

	op := New(vmID.Name, Options{Runner: e.runner})
	synced, err := op.SyncCurrent(context.Background(), e.store.Current(vmID))
	if err != nil {
		t.Fatal(err)
	}
	if synced.Status != virtops.StatusDeleted {
		t.Errorf("status = %v, want deleted", synced.Status)
	}
}

func TestConverge_CloudInitSeed(t *testing.T) {
	e := newEnv(t)
	f := e.fields()
	f["useCloudInit"] = true
	f["ciIsoPath"] = "{vmPath}/seed.iso"
	if _, err := e.apply(t, f); err != nil {
		t.Fatal(err)
	}
	vmPath := filepath.Join(e.dir, "web")
	iso := filepath.Join(vmPath, "seed.iso")
	if _, err := os.Stat(iso); err != nil {
		t.Fatalf("iso missing: %v", err)
	}
	netCfg, err := os.ReadFile(filepath.Join(vmPath, "cloud-init", "network-config"))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(netCfg), "0e:00:00:00:00:01") {
		t.Errorf("network-config = %s", netCfg)
	}
	var install string
	for _, l := range e.runner.Lines() {
		if strings.HasPrefix(l, "virt-install") {
			install = l
		}
	}
	if !strings.Contains(install, "--cdrom="+iso) {
		t.Errorf("virt-install = %q, want cdrom %s", install, iso)
	}
}

func TestConverge_ISOFailureIsCleanAndRetryable(t *testing.T) {
	e := newEnv(t)
	boom := errors.New("genisoimage: write error")
	e.runner.Faults.FailOnce("genisoimage", boom)
	f := e.fields()
	f["useCloudInit"] = true
	f["ciIsoPath"] = "seed.iso"

	if _, err := e.apply(t, f); !errors.Is(err, boom) {
		t.Fatalf("Converge() error = %v, want %v", err, boom)
	}
	if e.store.Current(vmID) != nil {
		t.Fatalf("current = %+v, want none", e.store.Current(vmID))
	}
	res, err := e.loop.Converge(context.Background(), vmID)
	if err != nil || !slices.Equal(res.Actions, []string{"create"}) {
		t.Fatalf("retry = %v, %v", res.Actions, err)
	}
}

func TestConverge_StartFailureIsPartial(t *testing.T) {
	e := newEnv(t)
	boom := errors.New("virsh: cannot start")
	e.runner.Faults.SetHook("virsh", func(args ...any) error {
		if a, ok := args[0].([]string); ok && len(a) > 0 && a[0] == "start" {
			return boom
		}
		return nil
	})
	if _, err := e.apply(t, e.fields()); !errors.Is(err, boom) {
		t.Fatalf("Converge() error = %v, want %v", err, boom)
	}
	if got := e.store.Current(vmID).Status; got != virtops.StatusError {
		t.Fatalf("status = %v, want error", got)
	}

	e.runner.Faults.Clear("virsh")
	res, err := e.loop.Converge(context.Background(), vmID)
	if err != nil || !slices.Equal(res.Actions, []string{"create"}) {
		t.Fatalf("retry = %v, %v", res.Actions, err)
	}
	if e.runner.Count("Run") == 0 || strings.Count(strings.Join(e.runner.Lines(), "\n"), "virsh define") != 1 {
		t.Errorf("retry redefined an existing domain: %v", e.runner.Lines())
	}
}

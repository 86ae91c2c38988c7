package bridge

import (
	"bytes"
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/containerd/errdefs"

	"virtops"
	"virtops/convergence"
	"virtops/infra/netlink"
	"virtops/internal/fake"
	"virtops/internal/fault"
	"virtops/reconcile"
)

var brID = virtops.Identity{Kind: Kind, Name: "br0"}

type env struct {
	store *fake.Store
	links *fake.Links
	loop  *convergence.Loop
}

func newEnv(t *testing.T) *env {
	t.Helper()
	links := fake.NewLinks()
	links.Faults = fault.NewInjector()
	for _, name := range []string{"eth0", "eth1", "eth2"} {
		links.Put(netlink.Link{Name: name, Type: "device", MTU: 1500})
	}
	op := New(brID.Name, links)
	op.Rand = bytes.NewReader(bytes.Repeat([]byte{1, 2, 3, 4, 5}, 8))
	store := fake.NewStore()
	return &env{store: store, links: links, loop: convergence.New(store, reconcile.New(op))}
}

func (e *env) apply(t *testing.T, fields virtops.Fields) convergence.Result {
	t.Helper()
	ctx := context.Background()
	if err := e.store.SetDesired(ctx, brID, virtops.MustRecord(virtops.StatusActive, fields)); err != nil {
		t.Fatal(err)
	}
	res, err := e.loop.Converge(ctx, brID)
	if err != nil {
		t.Fatalf("Converge() error = %v", err)
	}
	return res
}

func TestGenerateMAC(t *testing.T) {
	mac, err := GenerateMAC(bytes.NewReader([]byte{0xaa, 0xbb, 0xcc, 0xdd, 0xee}))
	if err != nil {
		t.Fatal(err)
	}
	if mac != "0e:aa:bb:cc:dd:ee" {
		t.Errorf("GenerateMAC() = %q", mac)
	}
	if _, err := GenerateMAC(bytes.NewReader([]byte{1})); err == nil {
		t.Error("GenerateMAC() with short input expected error")
	}
	random, err := GenerateMAC(nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := netlink.ParseMAC(random); err != nil {
		t.Errorf("GenerateMAC(nil) = %q: %v", random, err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		bridge  string
		fields  virtops.Fields
		wantErr bool
	}{
		{name: "empty", bridge: "br0", fields: virtops.Fields{"bridgeType": "linuxBridge", "interfaces": []any{}}},
		{name: "with mac", bridge: "br0", fields: virtops.Fields{"bridgeType": "linuxBridge", "interfaces": []any{"eth0"}, "macAddress": "0e:01:02:03:04:05"}},
		{name: "ovs", bridge: "br0", fields: virtops.Fields{"bridgeType": "ovsBridge", "interfaces": []any{}}, wantErr: true},
		{name: "unknown type", bridge: "br0", fields: virtops.Fields{"bridgeType": "hub", "interfaces": []any{}}, wantErr: true},
		{name: "missing interfaces", bridge: "br0", fields: virtops.Fields{"bridgeType": "linuxBridge"}, wantErr: true},
		{name: "interfaces not a list", bridge: "br0", fields: virtops.Fields{"bridgeType": "linuxBridge", "interfaces": "eth0"}, wantErr: true},
		{name: "duplicate port", bridge: "br0", fields: virtops.Fields{"bridgeType": "linuxBridge", "interfaces": []any{"eth0", "eth0"}}, wantErr: true},
		{name: "self port", bridge: "br0", fields: virtops.Fields{"bridgeType": "linuxBridge", "interfaces": []any{"br0"}}, wantErr: true},
		{name: "uppercase mac", bridge: "br0", fields: virtops.Fields{"bridgeType": "linuxBridge", "interfaces": []any{}, "macAddress": "0E:01:02:03:04:05"}, wantErr: true},
		{name: "explicit empty mac", bridge: "br0", fields: virtops.Fields{"bridgeType": "linuxBridge", "interfaces": []any{}, "macAddress": ""}, wantErr: true},
		{name: "bad mac", bridge: "br0", fields: virtops.Fields{"bridgeType": "linuxBridge", "interfaces": []any{}, "macAddress": "nope"}, wantErr: true},
		{name: "bad name", bridge: "bridge-name-too-long", fields: virtops.Fields{"bridgeType": "linuxBridge", "interfaces": []any{}}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.bridge, fake.NewLinks()).Validate(virtops.MustRecord(virtops.StatusActive, tt.fields))
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errdefs.IsInvalidArgument(err) {
				t.Errorf("Validate() error = %v, want invalid argument", err)
			}
		})
	}
}

func TestConverge_CreateWithGeneratedMAC(t *testing.T) {
	e := newEnv(t)
	res := e.apply(t, virtops.Fields{"bridgeType": "linuxBridge", "interfaces": []any{"eth1", "eth0"}})
	if !slices.Equal(res.Actions, []string{"create"}) {
		t.Fatalf("Actions = %v, want [create]", res.Actions)
	}
	br, ok := e.links.Link("br0")
	if !ok || !br.Up {
		t.Fatalf("bridge = %+v, want up", br)
	}
	if br.HardwareAddr != "0e:01:02:03:04:05" {
		t.Errorf("mac = %q, want generated 0e:01:02:03:04:05", br.HardwareAddr)
	}
	ports, _ := e.links.Ports(context.Background(), "br0")
	if !slices.Equal(ports, []string{"eth0", "eth1"}) {
		t.Errorf("ports = %v", ports)
	}

	// The recorded order survives a sync because the port set is unchanged.
	res = e.apply(t, virtops.Fields{"bridgeType": "linuxBridge", "interfaces": []any{"eth1", "eth0"}})
	if res.Changed() {
		t.Errorf("second apply Actions = %v, want none", res.Actions)
	}
}

func TestConverge_ChangePortsAndMAC(t *testing.T) {
	e := newEnv(t)
	e.apply(t, virtops.Fields{"bridgeType": "linuxBridge", "interfaces": []any{"eth0", "eth1"}})

	res := e.apply(t, virtops.Fields{
		"bridgeType": "linuxBridge",
		"interfaces": []any{"eth1", "eth2"},
		"macAddress": "0e:aa:aa:aa:aa:aa",
	})
	if !slices.Equal(res.Actions, []string{"change macAddress", "change interfaces"}) {
		t.Fatalf("Actions = %v", res.Actions)
	}
	if l, _ := e.links.Link("eth0"); l.Master != "" {
		t.Errorf("eth0 master = %q, want released", l.Master)
	}
	if l, _ := e.links.Link("eth2"); l.Master != "br0" || !l.Up {
		t.Errorf("eth2 = %+v, want enslaved and up", l)
	}
	if br, _ := e.links.Link("br0"); br.HardwareAddr != "0e:aa:aa:aa:aa:aa" {
		t.Errorf("mac = %q", br.HardwareAddr)
	}
}

func TestSync_PortRemovedBehindOurBack(t *testing.T) {
	e := newEnv(t)
	e.apply(t, virtops.Fields{"bridgeType": "linuxBridge", "interfaces": []any{"eth0", "eth1"}})
	if err := e.links.SetMaster(context.Background(), "eth1", ""); err != nil {
		t.Fatal(err)
	}

	op := New(brID.Name, e.links)
	synced, err := op.SyncCurrent(context.Background(), e.store.Current(brID))
	if err != nil {
		t.Fatal(err)
	}
	if got := synced.Fields["interfaces"]; !slices.Equal(got.([]any), []any{"eth0"}) {
		t.Errorf("interfaces = %v, want [eth0]", got)
	}
}

func TestConverge_MissingPortLeavesErrorRecord(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	desired := virtops.MustRecord(virtops.StatusActive, virtops.Fields{"bridgeType": "linuxBridge", "interfaces": []any{"eth9"}})
	if err := e.store.SetDesired(ctx, brID, desired); err != nil {
		t.Fatal(err)
	}
	_, err := e.loop.Converge(ctx, brID)
	if !errdefs.IsNotFound(err) {
		t.Fatalf("Converge() error = %v, want not found", err)
	}
	if got := e.store.Current(brID).Status; got != virtops.StatusError {
		t.Fatalf("status = %v, want error", got)
	}

	e.links.Put(netlink.Link{Name: "eth9", Type: "device"})
	if _, err := e.loop.Converge(ctx, brID); err != nil {
		t.Fatalf("retry Converge() error = %v", err)
	}
	if l, _ := e.links.Link("eth9"); l.Master != "br0" {
		t.Errorf("eth9 master = %q", l.Master)
	}
}

func TestConverge_DestroyFailureKeepsRecord(t *testing.T) {
	e := newEnv(t)
	e.apply(t, virtops.Fields{"bridgeType": "linuxBridge", "interfaces": []any{}})
	boom := errors.New("device busy")
	e.links.Faults.FailOnce("Delete", boom)

	ctx := context.Background()
	if err := e.store.SetDesired(ctx, brID, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := e.loop.Converge(ctx, brID); !errors.Is(err, boom) {
		t.Fatalf("Converge() error = %v, want %v", err, boom)
	}
	if got := e.store.Current(brID).Status; got != virtops.StatusActive {
		t.Errorf("status = %v, want active", got)
	}
	res, err := e.loop.Converge(ctx, brID)
	if err != nil || !slices.Equal(res.Actions, []string{"destroy"}) {
		t.Fatalf("retry = %v, %v", res.Actions, err)
	}
}

package platform

import (
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/containerd/errdefs"

	"virtops/entity/bridge"
	"virtops/entity/kvmimage"
	"virtops/entity/kvmvm"
	"virtops/entity/veth"
	"virtops/entity/wglink"
	"virtops/internal/command"
	"virtops/reconcile"
)

// Links is the link backend shared by the network operators.
type Links interface {
	veth.Links
	bridge.Links
	wglink.Links
}

// Deps are the backends operators are built on.
type Deps struct {
	Links      Links
	WireGuard  wglink.Devices
	Runner     command.Runner
	HTTP       *http.Client
	LibvirtURI string
}

// Factory builds the operator for the entity called name.
type Factory func(name string, deps Deps) reconcile.Operator

// Kind is a registered entity kind.
type Kind struct {
	Name    string
	Summary string
	New     Factory
}

var kinds = []Kind{
	{
		Name:    bridge.Kind,
		Summary: "Linux bridge and its enslaved interfaces",
		New: func(name string, d Deps) reconcile.Operator {
			return bridge.New(name, d.Links)
		},
	},
	{
		Name:    kvmimage.Kind,
		Summary: "qemu disk image, downloaded or built with qemu-img",
		New: func(name string, d Deps) reconcile.Operator {
			return kvmimage.New(name, kvmimage.Options{Runner: d.Runner, HTTP: d.HTTP})
		},
	},
	{
		Name:    kvmvm.Kind,
		Summary: "libvirt domain defined through virt-install and virsh",
		New: func(name string, d Deps) reconcile.Operator {
			return kvmvm.New(name, kvmvm.Options{Runner: d.Runner, Connect: d.LibvirtURI})
		},
	},
	{
		Name:    veth.Kind,
		Summary: "veth pair",
		New: func(name string, d Deps) reconcile.Operator {
			return veth.New(name, d.Links)
		},
	},
	{
		Name:    wglink.Kind,
		Summary: "WireGuard interface with its key and listen port",
		New: func(name string, d Deps) reconcile.Operator {
			return wglink.New(name, d.Links, d.WireGuard)
		},
	},
}

// Kinds returns the registered kinds sorted by name.
func Kinds() []Kind {
	out := slices.Clone(kinds)
	slices.SortFunc(out, func(a, b Kind) int { return strings.Compare(a.Name, b.Name) })
	return out
}

// Lookup returns the kind called name.
func Lookup(name string) (Kind, error) {
	for _, k := range kinds {
		if k.Name == name {
			return k, nil
		}
	}
	return Kind{}, fmt.Errorf("entity kind %q: %w", name, errdefs.ErrNotFound)
}

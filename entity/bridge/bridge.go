// Package bridge manages Linux bridges and the interfaces enslaved to them.
package bridge

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"slices"

	"virtops"
	"virtops/infra/netlink"
	"virtops/reconcile"
)

const Kind = "bridge"

const (
	TypeLinux = "linuxBridge"
	TypeOVS   = "ovsBridge"
)

// Spec is the payload of a bridge record.
type Spec struct {
	BridgeType string   `json:"bridgeType"`
	Interfaces []string `json:"interfaces"`
	MacAddress string   `json:"macAddress,omitempty"`
}

type Links interface {
	Get(ctx context.Context, name string) (netlink.Link, error)
	AddBridge(ctx context.Context, name, mac string) error
	Delete(ctx context.Context, name string) error
	SetUp(ctx context.Context, name string, up bool) error
	SetHardwareAddr(ctx context.Context, name, mac string) error
	SetMaster(ctx context.Context, name, master string) error
	Ports(ctx context.Context, bridge string) ([]string, error)
}

// Operator reconciles the bridge named after its entity.
type Operator struct {
	name  string
	links Links
	// Rand feeds GenerateMAC; crypto/rand when nil.
	Rand io.Reader
	log  *slog.Logger
}

var (
	_ reconcile.Operator  = (*Operator)(nil)
	_ reconcile.Validator = (*Operator)(nil)
)

func New(name string, links Links) *Operator {
	return &Operator{
		name:  name,
		links: links,
		log:   slog.With("component", Kind, "name", name),
	}
}

func decode(r *virtops.Record) (Spec, error) {
	var s Spec
	if err := r.Decode(&s); err != nil {
		return Spec{}, &reconcile.ValidationError{Message: err.Error()}
	}
	return s, nil
}

func (o *Operator) Validate(desired *virtops.Record) error {
	if err := netlink.ValidName(o.name); err != nil {
		return reconcile.Invalid("name", "%v", err)
	}
	s, err := decode(desired)
	if err != nil {
		return err
	}
	switch s.BridgeType {
	case TypeLinux:
	case TypeOVS:
		return reconcile.Invalid("bridgeType", "%s is not supported", TypeOVS)
	case "":
		return reconcile.Invalid("bridgeType", "is required")
	default:
		return reconcile.Invalid("bridgeType", "%q is not one of %s, %s", s.BridgeType, TypeLinux, TypeOVS)
	}
	if err := reconcile.RejectZero(desired, "macAddress"); err != nil {
		return err
	}
	if _, ok := desired.Fields["interfaces"]; !ok {
		return reconcile.Invalid("interfaces", "is required, use [] for none")
	}
	seen := make(map[string]bool, len(s.Interfaces))
	for _, iface := range s.Interfaces {
		if err := netlink.ValidName(iface); err != nil {
			return reconcile.Invalid("interfaces", "%v", err)
		}
		if iface == o.name {
			return reconcile.Invalid("interfaces", "bridge cannot enslave itself")
		}
		if seen[iface] {
			return reconcile.Invalid("interfaces", "%s is listed twice", iface)
		}
		seen[iface] = true
	}
	if s.MacAddress != "" {
		mac, err := netlink.ParseMAC(s.MacAddress)
		if err != nil {
			return reconcile.Invalid("macAddress", "%v", err)
		}
		if mac != s.MacAddress {
			return reconcile.Invalid("macAddress", "must be lowercase colon-separated, e.g. %s", mac)
		}
	}
	return nil
}

// SyncCurrent marks the bridge deleted when it is gone and otherwise
// refreshes its address and ports. The recorded interface order is kept
// while the set of ports is unchanged.
func (o *Operator) SyncCurrent(ctx context.Context, current *virtops.Record) (*virtops.Record, error) {
	if !current.Status.Exists() {
		return nil, nil
	}
	s, err := decode(current)
	if err != nil {
		return nil, err
	}
	link, err := o.links.Get(ctx, o.name)
	if netlink.IsNotFound(err) {
		o.log.Info("bridge vanished")
		return current.WithStatus(virtops.StatusDeleted), nil
	}
	if err != nil {
		return nil, err
	}
	ports, err := o.links.Ports(ctx, o.name)
	if err != nil {
		return nil, err
	}
	if ports == nil {
		ports = []string{}
	}
	if !sameSet(ports, s.Interfaces) {
		s.Interfaces = ports
	}
	return current.With("macAddress", link.HardwareAddr).With("interfaces", s.Interfaces), nil
}

func (o *Operator) CreateEntity(ctx context.Context, desired *virtops.Record) (*virtops.Record, error) {
	s, err := decode(desired)
	if err != nil {
		return nil, err
	}
	mac := s.MacAddress
	if mac == "" {
		if mac, err = GenerateMAC(o.Rand); err != nil {
			return nil, err
		}
	}
	if err := o.links.AddBridge(ctx, o.name, mac); err != nil {
		return nil, err
	}
	o.log.Info("bridge created", "mac", mac)

	// A bridge left over from an earlier attempt keeps its old address.
	if err := o.links.SetHardwareAddr(ctx, o.name, mac); err != nil {
		return nil, reconcile.Partial(err)
	}
	if err := o.links.SetUp(ctx, o.name, true); err != nil {
		return nil, reconcile.Partial(err)
	}
	if err := o.attach(ctx, s.Interfaces); err != nil {
		return nil, reconcile.Partial(err)
	}
	interfaces := s.Interfaces
	if interfaces == nil {
		interfaces = []string{}
	}
	return desired.WithStatus(virtops.StatusActive).
		With("macAddress", mac).
		With("interfaces", interfaces), nil
}

func (o *Operator) DestroyEntity(ctx context.Context, _ *virtops.Record) error {
	if err := o.links.Delete(ctx, o.name); err != nil {
		return err
	}
	o.log.Info("bridge deleted")
	return nil
}

func (o *Operator) ChangeFunctions() []reconcile.ChangeFunc {
	return []reconcile.ChangeFunc{
		{Name: "macAddress", Apply: o.changeMAC},
		{Name: "interfaces", Apply: o.changeInterfaces},
	}
}

func (o *Operator) changeMAC(ctx context.Context, current, desired *virtops.Record) (*virtops.Record, error) {
	cur, want, err := decodePair(current, desired)
	if err != nil || want.MacAddress == "" || want.MacAddress == cur.MacAddress {
		return nil, err
	}
	if err := o.links.SetHardwareAddr(ctx, o.name, want.MacAddress); err != nil {
		return nil, err
	}
	o.log.Info("bridge address changed", "from", cur.MacAddress, "to", want.MacAddress)
	return current.With("macAddress", want.MacAddress), nil
}

// changeInterfaces releases ports that are no longer wanted and enslaves
// the missing ones. A pure reordering only rewrites the record.
func (o *Operator) changeInterfaces(ctx context.Context, current, desired *virtops.Record) (*virtops.Record, error) {
	cur, want, err := decodePair(current, desired)
	if err != nil || slices.Equal(cur.Interfaces, want.Interfaces) {
		return nil, err
	}
	for _, iface := range cur.Interfaces {
		if slices.Contains(want.Interfaces, iface) {
			continue
		}
		if err := o.links.SetMaster(ctx, iface, ""); err != nil && !netlink.IsNotFound(err) {
			return nil, fmt.Errorf("release %s: %w", iface, err)
		}
	}
	var missing []string
	for _, iface := range want.Interfaces {
		if !slices.Contains(cur.Interfaces, iface) {
			missing = append(missing, iface)
		}
	}
	if err := o.attach(ctx, missing); err != nil {
		return nil, err
	}
	interfaces := want.Interfaces
	if interfaces == nil {
		interfaces = []string{}
	}
	return current.With("interfaces", interfaces), nil
}

func (o *Operator) attach(ctx context.Context, ifaces []string) error {
	for _, iface := range ifaces {
		if err := o.links.SetMaster(ctx, iface, o.name); err != nil {
			return fmt.Errorf("attach %s: %w", iface, err)
		}
		if err := o.links.SetUp(ctx, iface, true); err != nil {
			return fmt.Errorf("bring up %s: %w", iface, err)
		}
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

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	x, y := slices.Clone(a), slices.Clone(b)
	slices.Sort(x)
	slices.Sort(y)
	return slices.Equal(x, y)
}

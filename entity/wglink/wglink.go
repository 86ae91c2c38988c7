// Package wglink manages WireGuard interfaces: the kernel link plus its
// private key and listen port. Peers are left alone.
package wglink

import (
	"context"
	"log/slog"

	"virtops"
	"virtops/infra/netlink"
	"virtops/infra/wireguard"
	"virtops/reconcile"
)

const Kind = "wireguard"

// Spec is the payload of a wireguard record. PublicKey is derived and only
// ever written by the operator.
type Spec struct {
	ListenPort int    `json:"listenPort"`
	MTU        int    `json:"mtu,omitempty"`
	PrivateKey string `json:"privateKey,omitempty"`
	PublicKey  string `json:"publicKey,omitempty"`
}

type Links interface {
	Get(ctx context.Context, name string) (netlink.Link, error)
	AddWireGuard(ctx context.Context, name string) error
	Delete(ctx context.Context, name string) error
	SetUp(ctx context.Context, name string, up bool) error
	SetMTU(ctx context.Context, name string, mtu int) error
}

type Devices interface {
	Configure(ctx context.Context, name string, cfg wireguard.Config) error
	Device(ctx context.Context, name string) (wireguard.Device, error)
}

type Operator struct {
	name    string
	links   Links
	devices Devices
	log     *slog.Logger
}

var (
	_ reconcile.Operator  = (*Operator)(nil)
	_ reconcile.Validator = (*Operator)(nil)
)

func New(name string, links Links, devices Devices) *Operator {
	return &Operator{
		name:    name,
		links:   links,
		devices: devices,
		log:     slog.With("component", Kind, "name", name),
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
	if err := reconcile.RejectZero(desired, "mtu", "privateKey"); err != nil {
		return err
	}
	if s.ListenPort < 1 || s.ListenPort > 65535 {
		return reconcile.Invalid("listenPort", "%d is outside 1..65535", s.ListenPort)
	}
	if s.MTU != 0 && (s.MTU < 1280 || s.MTU > 65535) {
		return reconcile.Invalid("mtu", "%d is outside 1280..65535", s.MTU)
	}
	if s.PrivateKey != "" {
		if _, err := wireguard.ParseKey(s.PrivateKey); err != nil {
			return reconcile.Invalid("privateKey", "%v", err)
		}
	}
	if s.PublicKey != "" {
		return reconcile.Invalid("publicKey", "is derived from the private key and cannot be set")
	}
	return nil
}

func (o *Operator) SyncCurrent(ctx context.Context, current *virtops.Record) (*virtops.Record, error) {
	if !current.Status.Exists() {
		return nil, nil
	}
	link, err := o.links.Get(ctx, o.name)
	if netlink.IsNotFound(err) {
		o.log.Info("wireguard link vanished")
		return current.WithStatus(virtops.StatusDeleted), nil
	}
	if err != nil {
		return nil, err
	}
	dev, err := o.devices.Device(ctx, o.name)
	if err != nil {
		return nil, err
	}
	return current.
		With("listenPort", dev.ListenPort).
		With("publicKey", dev.PublicKey).
		With("mtu", link.MTU), nil
}

func (o *Operator) CreateEntity(ctx context.Context, desired *virtops.Record) (*virtops.Record, error) {
	s, err := decode(desired)
	if err != nil {
		return nil, err
	}
	private := s.PrivateKey
	if private == "" {
		if private, err = wireguard.GenerateKey(); err != nil {
			return nil, err
		}
	}
	key, err := wireguard.ParseKey(private)
	if err != nil {
		return nil, err
	}

	if err := o.links.AddWireGuard(ctx, o.name); err != nil {
		return nil, err
	}
	o.log.Info("wireguard link created", "port", s.ListenPort)

	if err := o.devices.Configure(ctx, o.name, wireguard.Config{PrivateKey: &key, ListenPort: s.ListenPort}); err != nil {
		return nil, reconcile.Partial(err)
	}
	if s.MTU != 0 {
		if err := o.links.SetMTU(ctx, o.name, s.MTU); err != nil {
			return nil, reconcile.Partial(err)
		}
	}
	if err := o.links.SetUp(ctx, o.name, true); err != nil {
		return nil, reconcile.Partial(err)
	}
	link, err := o.links.Get(ctx, o.name)
	if err != nil {
		return nil, reconcile.Partial(err)
	}
	return desired.WithStatus(virtops.StatusActive).
		With("publicKey", key.PublicKey().String()).
		With("mtu", link.MTU), nil
}

func (o *Operator) DestroyEntity(ctx context.Context, _ *virtops.Record) error {
	if err := o.links.Delete(ctx, o.name); err != nil {
		return err
	}
	o.log.Info("wireguard link deleted")
	return nil
}

func (o *Operator) ChangeFunctions() []reconcile.ChangeFunc {
	return []reconcile.ChangeFunc{
		{Name: "listenPort", Apply: o.changePort},
		{Name: "mtu", Apply: o.changeMTU},
		{Name: "privateKey", Apply: o.rotateKey},
	}
}

func (o *Operator) changePort(ctx context.Context, current, desired *virtops.Record) (*virtops.Record, error) {
	cur, want, err := decodePair(current, desired)
	if err != nil || want.ListenPort == cur.ListenPort {
		return nil, err
	}
	if err := o.devices.Configure(ctx, o.name, wireguard.Config{ListenPort: want.ListenPort}); err != nil {
		return nil, err
	}
	return current.With("listenPort", want.ListenPort), nil
}

func (o *Operator) changeMTU(ctx context.Context, current, desired *virtops.Record) (*virtops.Record, error) {
	cur, want, err := decodePair(current, desired)
	if err != nil || want.MTU == 0 || want.MTU == cur.MTU {
		return nil, err
	}
	if err := o.links.SetMTU(ctx, o.name, want.MTU); err != nil {
		return nil, err
	}
	return current.With("mtu", want.MTU), nil
}

// rotateKey installs a new private key when the desired one no longer
// derives the recorded public key.
func (o *Operator) rotateKey(ctx context.Context, current, desired *virtops.Record) (*virtops.Record, error) {
	cur, want, err := decodePair(current, desired)
	if err != nil || want.PrivateKey == "" {
		return nil, err
	}
	key, err := wireguard.ParseKey(want.PrivateKey)
	if err != nil {
		return nil, err
	}
	public := key.PublicKey().String()
	if public == cur.PublicKey && want.PrivateKey == cur.PrivateKey {
		return nil, nil
	}
	if public != cur.PublicKey {
		cfg := wireguard.Config{PrivateKey: &key, ListenPort: cur.ListenPort}
		if err := o.devices.Configure(ctx, o.name, cfg); err != nil {
			return nil, err
		}
		o.log.Info("wireguard key rotated", "public_key", public)
	}
	return current.With("privateKey", want.PrivateKey).With("publicKey", public), nil
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

// Package veth manages veth pairs. The entity name is only the record key;
// the two interface names come from the veth0 and veth1 fields.
package veth

import (
	"context"
	"fmt"
	"log/slog"

	"virtops"
	"virtops/infra/netlink"
	"virtops/reconcile"
)

const Kind = "veth"

const (
	StateUp   = "up"
	StateDown = "down"
)

// Spec is the payload of a veth record.
type Spec struct {
	Veth0     string `json:"veth0"`
	Veth1     string `json:"veth1"`
	MTU       int    `json:"mtu,omitempty"`
	LinkState string `json:"linkState,omitempty"`
}

func (s Spec) state() string {
	if s.LinkState == "" {
		return StateUp
	}
	return s.LinkState
}

// Links is the subset of netlink.Manager the operator uses.
type Links interface {
	Get(ctx context.Context, name string) (netlink.Link, error)
	AddVeth(ctx context.Context, name, peer string, mtu int) error
	Delete(ctx context.Context, name string) error
	SetUp(ctx context.Context, name string, up bool) error
	SetMTU(ctx context.Context, name string, mtu int) error
}

// Operator reconciles one veth pair.
type Operator struct {
	name  string
	links Links
	log   *slog.Logger
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
	s, err := decode(desired)
	if err != nil {
		return err
	}
	if err := netlink.ValidName(s.Veth0); err != nil {
		return reconcile.Invalid("veth0", "%v", err)
	}
	if err := netlink.ValidName(s.Veth1); err != nil {
		return reconcile.Invalid("veth1", "%v", err)
	}
	if err := reconcile.RejectZero(desired, "mtu", "linkState"); err != nil {
		return err
	}
	if s.Veth0 == s.Veth1 {
		return reconcile.Invalid("veth1", "must differ from veth0 (%q)", s.Veth0)
	}
	if s.MTU != 0 && (s.MTU < 68 || s.MTU > 65535) {
		return reconcile.Invalid("mtu", "%d is outside 68..65535", s.MTU)
	}
	switch s.LinkState {
	case "", StateUp, StateDown:
	default:
		return reconcile.Invalid("linkState", "%q is not one of up, down", s.LinkState)
	}
	return nil
}

// SyncCurrent marks the pair deleted when either end is gone and otherwise
// refreshes the observed MTU and link state.
func (o *Operator) SyncCurrent(ctx context.Context, current *virtops.Record) (*virtops.Record, error) {
	if !current.Status.Exists() {
		return nil, nil
	}
	s, err := decode(current)
	if err != nil {
		return nil, err
	}
	ends, gone, err := o.observe(ctx, s)
	if err != nil {
		return nil, err
	}
	if gone {
		o.log.Info("veth pair vanished", "veth0", s.Veth0, "veth1", s.Veth1)
		return current.WithStatus(virtops.StatusDeleted), nil
	}
	return current.With("mtu", ends[0].MTU).With("linkState", linkState(ends[0])), nil
}

func (o *Operator) CreateEntity(ctx context.Context, desired *virtops.Record) (*virtops.Record, error) {
	s, err := decode(desired)
	if err != nil {
		return nil, err
	}
	if err := o.links.AddVeth(ctx, s.Veth0, s.Veth1, s.MTU); err != nil {
		return nil, err
	}
	o.log.Info("veth pair created", "veth0", s.Veth0, "veth1", s.Veth1)

	if s.MTU != 0 {
		if err := o.setMTU(ctx, s, s.MTU); err != nil {
			return nil, reconcile.Partial(err)
		}
	}
	if err := o.setState(ctx, s, s.state()); err != nil {
		return nil, reconcile.Partial(err)
	}
	ends, gone, err := o.observe(ctx, s)
	if err != nil {
		return nil, reconcile.Partial(err)
	}
	if gone {
		return nil, reconcile.Partial(fmt.Errorf("veth pair %s/%s missing after creation", s.Veth0, s.Veth1))
	}
	return desired.WithStatus(virtops.StatusActive).
		With("mtu", ends[0].MTU).
		With("linkState", linkState(ends[0])), nil
}

// DestroyEntity deletes veth0, which takes its peer with it.
func (o *Operator) DestroyEntity(ctx context.Context, current *virtops.Record) error {
	s, err := decode(current)
	if err != nil {
		return err
	}
	if err := o.links.Delete(ctx, s.Veth0); err != nil {
		return err
	}
	o.log.Info("veth pair deleted", "veth0", s.Veth0)
	return nil
}

func (o *Operator) ChangeFunctions() []reconcile.ChangeFunc {
	return []reconcile.ChangeFunc{
		{Name: "mtu", Apply: o.changeMTU},
		{Name: "linkState", Apply: o.changeState},
		{Name: "recreate", Apply: o.recreate},
	}
}

func (o *Operator) changeMTU(ctx context.Context, current, desired *virtops.Record) (*virtops.Record, error) {
	cur, want, err := decodePair(current, desired)
	if err != nil || want.MTU == 0 || want.MTU == cur.MTU || renamed(cur, want) {
		return nil, err
	}
	if err := o.setMTU(ctx, cur, want.MTU); err != nil {
		return nil, err
	}
	return current.With("mtu", want.MTU), nil
}

func (o *Operator) changeState(ctx context.Context, current, desired *virtops.Record) (*virtops.Record, error) {
	cur, want, err := decodePair(current, desired)
	if err != nil || want.state() == cur.state() || renamed(cur, want) {
		return nil, err
	}
	if err := o.setState(ctx, cur, want.state()); err != nil {
		return nil, err
	}
	return current.With("linkState", want.state()), nil
}

// recreate replaces the pair when an interface name changed.
func (o *Operator) recreate(ctx context.Context, current, desired *virtops.Record) (*virtops.Record, error) {
	cur, want, err := decodePair(current, desired)
	if err != nil || !renamed(cur, want) {
		return nil, err
	}
	if err := o.DestroyEntity(ctx, current); err != nil {
		return nil, err
	}
	created, err := o.CreateEntity(ctx, desired)
	if err != nil {
		return nil, reconcile.Partial(err)
	}
	return created, nil
}

func (o *Operator) observe(ctx context.Context, s Spec) ([2]netlink.Link, bool, error) {
	var ends [2]netlink.Link
	for i, name := range []string{s.Veth0, s.Veth1} {
		l, err := o.links.Get(ctx, name)
		if netlink.IsNotFound(err) {
			return ends, true, nil
		}
		if err != nil {
			return ends, false, err
		}
		ends[i] = l
	}
	return ends, false, nil
}

func (o *Operator) setMTU(ctx context.Context, s Spec, mtu int) error {
	for _, name := range []string{s.Veth0, s.Veth1} {
		if err := o.links.SetMTU(ctx, name, mtu); err != nil {
			return err
		}
	}
	return nil
}

func (o *Operator) setState(ctx context.Context, s Spec, state string) error {
	for _, name := range []string{s.Veth0, s.Veth1} {
		if err := o.links.SetUp(ctx, name, state == StateUp); err != nil {
			return err
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

func renamed(cur, want Spec) bool {
	return cur.Veth0 != want.Veth0 || cur.Veth1 != want.Veth1
}

func linkState(l netlink.Link) string {
	if l.Up {
		return StateUp
	}
	return StateDown
}

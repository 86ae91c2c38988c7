// Package kvmvm manages libvirt domains. Domains are rendered with
// virt-install --print-xml, defined with virsh and started or stopped to
// match vmState. Resource changes are written to the persistent
// definition and take effect on the next boot.
package kvmvm

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strconv"

	"virtops"
	"virtops/internal/command"
	"virtops/reconcile"
)

const Kind = "kvm-vm"

// Options are fixed for the lifetime of an operator. Empty binaries fall
// back to their usual names.
type Options struct {
	Runner      command.Runner
	Virsh       string
	VirtInstall string
	GenISOImage string
	// Connect is the libvirt URI, e.g. qemu:///system.
	Connect string
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
	if opts.Virsh == "" {
		opts.Virsh = "virsh"
	}
	if opts.VirtInstall == "" {
		opts.VirtInstall = "virt-install"
	}
	if opts.GenISOImage == "" {
		opts.GenISOImage = "genisoimage"
	}
	return &Operator{
		name: name,
		opts: opts,
		log:  slog.With("component", Kind, "name", name),
	}
}

func (o *Operator) Validate(desired *virtops.Record) error {
	s, err := decode(desired)
	if err != nil {
		return err
	}
	return validate(s)
}

// SyncCurrent marks the VM deleted once its domain is undefined and
// otherwise refreshes vmState.
func (o *Operator) SyncCurrent(ctx context.Context, current *virtops.Record) (*virtops.Record, error) {
	if !current.Status.Exists() {
		return nil, nil
	}
	defined, err := o.defined(ctx)
	if err != nil {
		return nil, err
	}
	if !defined {
		o.log.Info("domain vanished")
		return current.WithStatus(virtops.StatusDeleted), nil
	}
	state, err := o.state(ctx)
	if err != nil {
		return nil, err
	}
	return current.With("vmState", state), nil
}

// CreateEntity defines the domain unless one with the same name exists
// already, then brings it to the desired run state.
func (o *Operator) CreateEntity(ctx context.Context, desired *virtops.Record) (*virtops.Record, error) {
	s, err := decode(desired)
	if err != nil {
		return nil, err
	}
	defined, err := o.defined(ctx)
	if err != nil {
		return nil, err
	}
	if defined {
		o.log.Info("domain already defined")
	} else if err := o.define(ctx, s); err != nil {
		return nil, err
	}

	state, err := o.state(ctx)
	if err != nil {
		return nil, reconcile.Partial(err)
	}
	if state != s.VMState {
		if err := o.setState(ctx, s.VMState); err != nil {
			return nil, reconcile.Partial(err)
		}
	}
	return desired.WithStatus(virtops.StatusActive), nil
}

// DestroyEntity powers the domain off and removes its definition. Disk
// images and the VM directory are left in place.
func (o *Operator) DestroyEntity(ctx context.Context, _ *virtops.Record) error {
	defined, err := o.defined(ctx)
	if err != nil || !defined {
		return err
	}
	state, err := o.state(ctx)
	if err != nil {
		return err
	}
	if state == StateRunning {
		if _, err := o.virsh(ctx, "destroy", o.name); err != nil {
			return err
		}
	}
	if _, err := o.virsh(ctx, "undefine", o.name); err != nil {
		return err
	}
	o.log.Info("domain undefined")
	return nil
}

func (o *Operator) ChangeFunctions() []reconcile.ChangeFunc {
	return []reconcile.ChangeFunc{
		{Name: "resources", Apply: o.changeResources},
		{Name: "vmState", Apply: o.changeState},
		{Name: "redefine", Apply: o.redefine},
	}
}

func (o *Operator) changeResources(ctx context.Context, current, desired *virtops.Record) (*virtops.Record, error) {
	cur, want, err := decodePair(current, desired)
	if err != nil || needsRedefine(cur, want) {
		return nil, err
	}
	if cur.SMP == want.SMP && cur.RAMInGB == want.RAMInGB {
		return nil, nil
	}
	if cur.SMP != want.SMP {
		if err := o.resize(ctx, "setvcpus", strconv.Itoa(want.SMP), want.SMP > cur.SMP); err != nil {
			return nil, err
		}
	}
	if cur.RAMInGB != want.RAMInGB {
		mem := strconv.Itoa(want.RAMInGB) + "G"
		if err := o.resize(ctx, "setmem", mem, want.RAMInGB > cur.RAMInGB); err != nil {
			return nil, err
		}
	}
	o.log.Info("domain resources changed", "smp", want.SMP, "ram_gb", want.RAMInGB)
	return current.With("smp", want.SMP).With("ramInGB", want.RAMInGB), nil
}

// resize sets both the maximum and the current value of a resource in the
// persistent definition. The maximum moves first when growing and last
// when shrinking so that current never exceeds it.
func (o *Operator) resize(ctx context.Context, cmd, value string, grow bool) error {
	maximum := []string{cmd, o.name, value, "--config", "--maximum"}
	if cmd == "setmem" {
		maximum = []string{"setmaxmem", o.name, value, "--config"}
	}
	steps := [][]string{maximum, {cmd, o.name, value, "--config"}}
	if !grow {
		steps[0], steps[1] = steps[1], steps[0]
	}
	for _, args := range steps {
		if _, err := o.virsh(ctx, args...); err != nil {
			return err
		}
	}
	return nil
}

func (o *Operator) changeState(ctx context.Context, current, desired *virtops.Record) (*virtops.Record, error) {
	cur, want, err := decodePair(current, desired)
	if err != nil || cur.VMState == want.VMState || needsRedefine(cur, want) {
		return nil, err
	}
	if err := o.setState(ctx, want.VMState); err != nil {
		return nil, err
	}
	return current.With("vmState", want.VMState), nil
}

// redefine replaces the domain when disks, networks or guest settings
// changed.
func (o *Operator) redefine(ctx context.Context, current, desired *virtops.Record) (*virtops.Record, error) {
	cur, want, err := decodePair(current, desired)
	if err != nil || !needsRedefine(cur, want) {
		return nil, err
	}
	o.log.Info("redefining domain")
	if err := o.DestroyEntity(ctx, current); err != nil {
		return nil, err
	}
	created, err := o.CreateEntity(ctx, desired)
	if err != nil {
		return nil, reconcile.Partial(err)
	}
	return created, nil
}

func needsRedefine(cur, want Spec) bool {
	cur.SMP, cur.RAMInGB, cur.VMState = 0, 0, ""
	want.SMP, want.RAMInGB, want.VMState = 0, 0, ""
	return !reflect.DeepEqual(cur, want)
}

func (o *Operator) setState(ctx context.Context, state string) error {
	verb := "start"
	if state == StateStopped {
		verb = "shutdown"
	}
	if _, err := o.virsh(ctx, verb, o.name); err != nil {
		return err
	}
	o.log.Info("domain state requested", "state", state)
	return nil
}

// define writes the cloud-init seed when needed, renders the domain XML
// and defines it.
func (o *Operator) define(ctx context.Context, s Spec) error {
	if err := os.MkdirAll(s.VMPath, 0o755); err != nil {
		return fmt.Errorf("create vm directory: %w", err)
	}
	if s.cloudInit() {
		if err := o.writeSeedISO(ctx, s); err != nil {
			return err
		}
	}
	xml, err := o.opts.Runner.Run(ctx, o.opts.VirtInstall, o.installArgs(s)...)
	if err != nil {
		return fmt.Errorf("render domain xml: %w", err)
	}
	defPath := filepath.Join(s.VMPath, "vm_def_"+o.name+".xml")
	if err := os.WriteFile(defPath, xml, 0o644); err != nil {
		return fmt.Errorf("write domain xml: %w", err)
	}
	if _, err := o.virsh(ctx, "define", defPath); err != nil {
		return err
	}
	o.log.Info("domain defined", "xml", defPath)
	return nil
}

// writeSeedISO builds the cloud-init ISO unless it exists. A failed build
// removes the partial ISO so a retry starts clean.
func (o *Operator) writeSeedISO(ctx context.Context, s Spec) error {
	iso := s.resolve(s.CIIsoPath)
	if _, err := os.Stat(iso); err == nil {
		o.log.Info("cloud-init iso already exists", "path", iso)
		return nil
	}
	seed, err := BuildSeed(o.name, s)
	if err != nil {
		return err
	}
	files, err := seed.Write(filepath.Join(s.VMPath, "cloud-init"))
	if err != nil {
		return err
	}
	args := append([]string{"-output", iso, "-volid", "cidata", "-joliet", "-rock"}, files...)
	if _, err := o.opts.Runner.Run(ctx, o.opts.GenISOImage, args...); err != nil {
		_ = os.Remove(iso)
		return fmt.Errorf("build cloud-init iso: %w", err)
	}
	o.log.Info("cloud-init iso created", "path", iso)
	return nil
}

func (o *Operator) installArgs(s Spec) []string {
	args := []string{"--print-xml", "--name", o.name}
	if o.opts.Connect != "" {
		args = append(args, "--connect", o.opts.Connect)
	}
	args = append(args,
		"--os-variant", s.OSVariant,
		"--memory", strconv.Itoa(s.RAMInGB*1024),
		"--vcpus", strconv.Itoa(s.SMP),
	)
	for _, d := range s.Disks {
		args = append(args, "--disk", "path="+s.resolve(d.DiskPath))
	}
	for _, n := range s.Networks {
		args = append(args, "--network", networkArg(n))
	}
	if s.cloudInit() {
		args = append(args, "--cdrom="+s.resolve(s.CIIsoPath))
	}
	return append(args, "--graphics", "none", "--console", "pty,target_type=serial")
}

func networkArg(n Network) string {
	arg := "bridge=" + n.BridgeName
	if n.IfaceType == IfaceMacVTap {
		arg = "type=direct,source=" + n.BridgeName + ",source_mode=bridge"
	}
	arg += ",model=virtio"
	if n.MacAddress != "" {
		arg += ",mac=" + n.MacAddress
	}
	return arg
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

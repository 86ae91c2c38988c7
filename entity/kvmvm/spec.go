package kvmvm

import (
	"net/netip"
	"path/filepath"
	"strings"

	"virtops"
	"virtops/infra/netlink"
	"virtops/reconcile"
)

const (
	StateRunning = "running"
	StateStopped = "stopped"

	IfaceBridge  = "bridge"
	IfaceMacVTap = "macvtap"

	// PathPrefix in a disk or ISO path stands for the VM's vmPath.
	PathPrefix = "{vmPath}"
)

// Spec is the payload of a kvm-vm record.
type Spec struct {
	VMPath       string    `json:"vmPath"`
	SMP          int       `json:"smp"`
	RAMInGB      int       `json:"ramInGB"`
	Disks        []Disk    `json:"disks"`
	Networks     []Network `json:"networks"`
	OSType       string    `json:"osType"`
	OSVariant    string    `json:"osVariant"`
	VMState      string    `json:"vmState"`
	UseCloudInit *bool     `json:"useCloudInit"`
	CIIsoPath    string    `json:"ciIsoPath,omitempty"`
}

type Disk struct {
	DiskPath string `json:"diskPath"`
}

// Network is one guest interface, attached to a host bridge or to a host
// interface through macvtap.
type Network struct {
	IfaceType  string `json:"ifaceType"`
	BridgeName string `json:"bridgeName"`
	TapMode    string `json:"tapMode,omitempty"`
	MacAddress string `json:"macAddress,omitempty"`
	UseDHCP4   *bool  `json:"useDHCP4,omitempty"`
	IP4        string `json:"ip4,omitempty"`
	Gateway4   string `json:"gateway4,omitempty"`
}

func (s Spec) cloudInit() bool { return s.UseCloudInit != nil && *s.UseCloudInit }

// resolve expands PathPrefix and makes relative paths relative to vmPath.
func (s Spec) resolve(p string) string {
	if rest, ok := strings.CutPrefix(p, PathPrefix); ok {
		return filepath.Join(s.VMPath, rest)
	}
	if !filepath.IsAbs(p) {
		return filepath.Join(s.VMPath, p)
	}
	return p
}

func decode(r *virtops.Record) (Spec, error) {
	var s Spec
	if err := r.Decode(&s); err != nil {
		return Spec{}, &reconcile.ValidationError{Message: err.Error()}
	}
	return s, nil
}

func validate(s Spec) error {
	if s.VMPath == "" {
		return reconcile.Invalid("vmPath", "is required")
	}
	if !filepath.IsAbs(s.VMPath) {
		return reconcile.Invalid("vmPath", "%q must be absolute", s.VMPath)
	}
	if s.SMP < 1 {
		return reconcile.Invalid("smp", "must be a positive integer")
	}
	if s.RAMInGB < 1 {
		return reconcile.Invalid("ramInGB", "must be a positive integer")
	}
	if len(s.Disks) == 0 {
		return reconcile.Invalid("disks", "must list at least one disk")
	}
	for i, d := range s.Disks {
		if d.DiskPath == "" {
			return reconcile.Invalid("disks", "disk %d has no diskPath", i)
		}
	}
	if s.UseCloudInit == nil {
		return reconcile.Invalid("useCloudInit", "is required")
	}
	if s.cloudInit() && s.CIIsoPath == "" {
		return reconcile.Invalid("ciIsoPath", "is required when useCloudInit is set")
	}
	if len(s.Networks) == 0 {
		return reconcile.Invalid("networks", "must list at least one interface")
	}
	for i, n := range s.Networks {
		if err := validateNetwork(n, s.cloudInit()); err != nil {
			return reconcile.Invalid("networks", "interface %d: %v", i, err)
		}
	}
	if s.OSType != "linux" {
		return reconcile.Invalid("osType", "%q is not supported, only linux", s.OSType)
	}
	if s.OSVariant == "" {
		return reconcile.Invalid("osVariant", "is required")
	}
	switch s.VMState {
	case StateRunning, StateStopped:
	case "notExists":
		return reconcile.Invalid("vmState", "set the record status to deleted to remove a VM")
	default:
		return reconcile.Invalid("vmState", "%q is not one of %s, %s", s.VMState, StateRunning, StateStopped)
	}
	return nil
}

type netError string

func (e netError) Error() string { return string(e) }

func validateNetwork(n Network, cloudInit bool) error {
	switch n.IfaceType {
	case IfaceBridge, IfaceMacVTap:
	default:
		return netError("ifaceType must be bridge or macvtap")
	}
	if n.BridgeName == "" {
		return netError("bridgeName is required")
	}
	if n.IfaceType == IfaceMacVTap && n.TapMode != "" && n.TapMode != "bridge" {
		return netError("only tapMode bridge is supported")
	}
	if n.MacAddress != "" {
		mac, err := netlink.ParseMAC(n.MacAddress)
		if err != nil {
			return err
		}
		if mac != n.MacAddress {
			return netError("macAddress must be lowercase colon-separated")
		}
	}
	if !cloudInit {
		return nil
	}
	if n.MacAddress == "" {
		return netError("cloud-init needs a macAddress to match the interface")
	}
	if n.UseDHCP4 == nil {
		return netError("useDHCP4 is required with cloud-init")
	}
	if *n.UseDHCP4 {
		return nil
	}
	prefix, err := netip.ParsePrefix(n.IP4)
	if err != nil || !prefix.Addr().Is4() {
		return netError("ip4 must be an IPv4 address with prefix length, e.g. 10.0.0.5/24")
	}
	gw, err := netip.ParseAddr(n.Gateway4)
	if err != nil || !gw.Is4() {
		return netError("gateway4 must be an IPv4 address")
	}
	return nil
}

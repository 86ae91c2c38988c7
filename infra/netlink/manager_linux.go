//go:build linux

package netlink

import (
	"context"
	"errors"
	"fmt"
	"net"

	vnl "github.com/vishvananda/netlink"
	"golang.org/x/sys/unix"
)

// Manager manages links through the kernel netlink API.
type Manager struct{}

// NewManager returns a netlink-backed link manager.
func NewManager() *Manager { return &Manager{} }

func (m *Manager) Get(_ context.Context, name string) (Link, error) {
	l, err := lookup(name)
	if err != nil {
		return Link{}, err
	}
	return m.describe(l), nil
}

func (m *Manager) describe(l vnl.Link) Link {
	attrs := l.Attrs()
	out := Link{
		Name:  attrs.Name,
		Type:  l.Type(),
		Index: attrs.Index,
		MTU:   attrs.MTU,
		Up:    attrs.Flags&net.FlagUp != 0,
	}
	if len(attrs.HardwareAddr) > 0 {
		out.HardwareAddr = attrs.HardwareAddr.String()
	}
	if attrs.MasterIndex > 0 {
		if master, err := vnl.LinkByIndex(attrs.MasterIndex); err == nil {
			out.Master = master.Attrs().Name
		}
	}
	return out
}

// AddVeth creates a veth pair. mtu 0 keeps the kernel default.
func (m *Manager) AddVeth(_ context.Context, name, peer string, mtu int) error {
	attrs := vnl.NewLinkAttrs()
	attrs.Name = name
	if mtu > 0 {
		attrs.MTU = mtu
	}
	veth := &vnl.Veth{LinkAttrs: attrs, PeerName: peer}
	if err := vnl.LinkAdd(veth); err != nil && !errors.Is(err, unix.EEXIST) {
		return fmt.Errorf("create veth pair %s/%s: %w", name, peer, err)
	}
	return nil
}

// AddBridge creates a Linux bridge. An empty mac lets the kernel pick one.
func (m *Manager) AddBridge(_ context.Context, name, mac string) error {
	attrs := vnl.NewLinkAttrs()
	attrs.Name = name
	if mac != "" {
		hw, err := net.ParseMAC(mac)
		if err != nil {
			return fmt.Errorf("parse bridge mac %q: %w", mac, err)
		}
		attrs.HardwareAddr = hw
	}
	if err := vnl.LinkAdd(&vnl.Bridge{LinkAttrs: attrs}); err != nil && !errors.Is(err, unix.EEXIST) {
		return fmt.Errorf("create bridge %s: %w", name, err)
	}
	return nil
}

// AddWireGuard creates a kernel WireGuard interface.
func (m *Manager) AddWireGuard(_ context.Context, name string) error {
	link := &vnl.GenericLink{LinkAttrs: vnl.LinkAttrs{Name: name}, LinkType: "wireguard"}
	if err := vnl.LinkAdd(link); err != nil && !errors.Is(err, unix.EEXIST) {
		return fmt.Errorf("create wireguard interface %s: %w", name, err)
	}
	return nil
}

// Delete removes a link. A missing link is not an error.
func (m *Manager) Delete(_ context.Context, name string) error {
	l, err := lookup(name)
	if err != nil {
		if IsNotFound(err) {
			return nil
		}
		return err
	}
	if err := vnl.LinkDel(l); err != nil {
		return fmt.Errorf("delete link %s: %w", name, err)
	}
	return nil
}

func (m *Manager) SetUp(_ context.Context, name string, up bool) error {
	l, err := lookup(name)
	if err != nil {
		return err
	}
	if up {
		err = vnl.LinkSetUp(l)
	} else {
		err = vnl.LinkSetDown(l)
	}
	if err != nil {
		return fmt.Errorf("set link %s up=%t: %w", name, up, err)
	}
	return nil
}

func (m *Manager) SetMTU(_ context.Context, name string, mtu int) error {
	l, err := lookup(name)
	if err != nil {
		return err
	}
	if err := vnl.LinkSetMTU(l, mtu); err != nil {
		return fmt.Errorf("set mtu %d on %s: %w", mtu, name, err)
	}
	return nil
}

func (m *Manager) SetHardwareAddr(_ context.Context, name, mac string) error {
	l, err := lookup(name)
	if err != nil {
		return err
	}
	hw, err := net.ParseMAC(mac)
	if err != nil {
		return fmt.Errorf("parse mac %q: %w", mac, err)
	}
	if err := vnl.LinkSetHardwareAddr(l, hw); err != nil {
		return fmt.Errorf("set mac %s on %s: %w", mac, name, err)
	}
	return nil
}

// SetMaster enslaves name to master. An empty master releases it.
func (m *Manager) SetMaster(_ context.Context, name, master string) error {
	l, err := lookup(name)
	if err != nil {
		return err
	}
	if master == "" {
		if err := vnl.LinkSetNoMaster(l); err != nil {
			return fmt.Errorf("release %s from its bridge: %w", name, err)
		}
		return nil
	}
	ml, err := lookup(master)
	if err != nil {
		return err
	}
	if err := vnl.LinkSetMaster(l, ml); err != nil {
		return fmt.Errorf("attach %s to %s: %w", name, master, err)
	}
	return nil
}

// Ports lists the links enslaved to bridge.
func (m *Manager) Ports(_ context.Context, bridge string) ([]string, error) {
	br, err := lookup(bridge)
	if err != nil {
		return nil, err
	}
	all, err := vnl.LinkList()
	if err != nil {
		return nil, fmt.Errorf("list links: %w", err)
	}
	var ports []string
	for _, l := range all {
		if l.Attrs().MasterIndex == br.Attrs().Index {
			ports = append(ports, l.Attrs().Name)
		}
	}
	return ports, nil
}

func lookup(name string) (vnl.Link, error) {
	l, err := vnl.LinkByName(name)
	if err != nil {
		var nf vnl.LinkNotFoundError
		if errors.As(err, &nf) {
			return nil, notFound(name)
		}
		return nil, fmt.Errorf("find link %q: %w", name, err)
	}
	return l, nil
}

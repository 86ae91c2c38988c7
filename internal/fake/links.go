package fake

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/containerd/errdefs"

	"virtops/infra/netlink"
	"virtops/internal/fault"
)

// Links is an in-memory link table standing in for netlink.Manager.
type Links struct {
	CallRecorder
	Faults *fault.Injector

	mu    sync.Mutex
	links map[string]netlink.Link
	peers map[string]string
	next  int
}

func NewLinks() *Links {
	return &Links{links: make(map[string]netlink.Link), peers: make(map[string]string)}
}

// Put adds or replaces a link, e.g. a pre-existing host interface.
func (l *Links) Put(link netlink.Link) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.add(link)
}

// Remove deletes a link behind the operator's back.
func (l *Links) Remove(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.del(name)
}

// Link returns a link by name.
func (l *Links) Link(name string) (netlink.Link, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	link, ok := l.links[name]
	return link, ok
}

func (l *Links) Get(_ context.Context, name string) (netlink.Link, error) {
	l.record("Get", name)
	if err := l.Faults.Eval("Get", name); err != nil {
		return netlink.Link{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	link, ok := l.links[name]
	if !ok {
		return netlink.Link{}, missing(name)
	}
	return link, nil
}

func (l *Links) AddVeth(_ context.Context, name, peer string, mtu int) error {
	l.record("AddVeth", name, peer, mtu)
	if err := l.Faults.Eval("AddVeth", name, peer, mtu); err != nil {
		return err
	}
	if mtu == 0 {
		mtu = 1500
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.add(netlink.Link{Name: name, Type: "veth", MTU: mtu, HardwareAddr: l.mac()})
	l.add(netlink.Link{Name: peer, Type: "veth", MTU: mtu, HardwareAddr: l.mac()})
	l.peers[name], l.peers[peer] = peer, name
	return nil
}

func (l *Links) AddBridge(_ context.Context, name, mac string) error {
	l.record("AddBridge", name, mac)
	if err := l.Faults.Eval("AddBridge", name, mac); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if mac == "" {
		mac = l.mac()
	}
	l.add(netlink.Link{Name: name, Type: "bridge", MTU: 1500, HardwareAddr: mac})
	return nil
}

func (l *Links) AddWireGuard(_ context.Context, name string) error {
	l.record("AddWireGuard", name)
	if err := l.Faults.Eval("AddWireGuard", name); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.add(netlink.Link{Name: name, Type: "wireguard", MTU: 1420})
	return nil
}

func (l *Links) Delete(_ context.Context, name string) error {
	l.record("Delete", name)
	if err := l.Faults.Eval("Delete", name); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.del(name)
	return nil
}

func (l *Links) SetUp(_ context.Context, name string, up bool) error {
	l.record("SetUp", name, up)
	return l.update("SetUp", name, func(link *netlink.Link) { link.Up = up })
}

func (l *Links) SetMTU(_ context.Context, name string, mtu int) error {
	l.record("SetMTU", name, mtu)
	return l.update("SetMTU", name, func(link *netlink.Link) { link.MTU = mtu })
}

func (l *Links) SetHardwareAddr(_ context.Context, name, mac string) error {
	l.record("SetHardwareAddr", name, mac)
	return l.update("SetHardwareAddr", name, func(link *netlink.Link) { link.HardwareAddr = mac })
}

func (l *Links) SetMaster(_ context.Context, name, master string) error {
	l.record("SetMaster", name, master)
	if master != "" {
		if _, ok := l.Link(master); !ok {
			return missing(master)
		}
	}
	return l.update("SetMaster", name, func(link *netlink.Link) { link.Master = master })
}

func (l *Links) Ports(_ context.Context, bridge string) ([]string, error) {
	l.record("Ports", bridge)
	if err := l.Faults.Eval("Ports", bridge); err != nil {
		return nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.links[bridge]; !ok {
		return nil, missing(bridge)
	}
	var ports []string
	for name, link := range l.links {
		if link.Master == bridge {
			ports = append(ports, name)
		}
	}
	sort.Strings(ports)
	return ports, nil
}

func (l *Links) update(method, name string, fn func(*netlink.Link)) error {
	if err := l.Faults.Eval(method, name); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	link, ok := l.links[name]
	if !ok {
		return missing(name)
	}
	fn(&link)
	l.links[name] = link
	return nil
}

func (l *Links) add(link netlink.Link) {
	if existing, ok := l.links[link.Name]; ok {
		link.Index = existing.Index
	} else {
		l.next++
		link.Index = l.next
	}
	l.links[link.Name] = link
}

func (l *Links) del(name string) {
	delete(l.links, name)
	if peer, ok := l.peers[name]; ok {
		delete(l.links, peer)
		delete(l.peers, peer)
		delete(l.peers, name)
	}
	for other, link := range l.links {
		if link.Master == name {
			link.Master = ""
			l.links[other] = link
		}
	}
}

func (l *Links) mac() string {
	return fmt.Sprintf("02:00:00:00:00:%02x", (l.next+1)%256)
}

func missing(name string) error {
	return fmt.Errorf("link %q: %w", name, errdefs.ErrNotFound)
}

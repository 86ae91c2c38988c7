package fake

import (
	"context"
	"fmt"
	"sync"

	"github.com/containerd/errdefs"

	"virtops/infra/wireguard"
	"virtops/internal/fault"
)

// WireGuard stands in for wireguard.Client.
type WireGuard struct {
	CallRecorder
	Faults *fault.Injector

	mu      sync.Mutex
	devices map[string]wireguard.Device
}

func NewWireGuard() *WireGuard {
	return &WireGuard{devices: make(map[string]wireguard.Device)}
}

func (w *WireGuard) Configure(_ context.Context, name string, cfg wireguard.Config) error {
	w.record("Configure", name, cfg.ListenPort)
	if err := w.Faults.Eval("Configure", name, cfg); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.devices == nil {
		w.devices = make(map[string]wireguard.Device)
	}
	dev := w.devices[name]
	dev.Name = name
	dev.ListenPort = cfg.ListenPort
	if cfg.PrivateKey != nil {
		dev.PublicKey = cfg.PrivateKey.PublicKey().String()
	}
	w.devices[name] = dev
	return nil
}

func (w *WireGuard) Device(_ context.Context, name string) (wireguard.Device, error) {
	w.record("Device", name)
	if err := w.Faults.Eval("Device", name); err != nil {
		return wireguard.Device{}, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	dev, ok := w.devices[name]
	if !ok {
		return wireguard.Device{}, fmt.Errorf("wireguard device %q: %w", name, errdefs.ErrNotFound)
	}
	return dev, nil
}

// Forget drops a device, mirroring the deletion of its link.
func (w *WireGuard) Forget(name string) {
	w.mu.Lock()
	delete(w.devices, name)
	w.mu.Unlock()
}

//go:build !linux

package netlink

import "context"

// Manager reports ErrUnsupported for every operation off Linux.
type Manager struct{}

func NewManager() *Manager { return &Manager{} }

func (m *Manager) Get(context.Context, string) (Link, error) { return Link{}, ErrUnsupported }

func (m *Manager) AddVeth(context.Context, string, string, int) error { return ErrUnsupported }

func (m *Manager) AddBridge(context.Context, string, string) error { return ErrUnsupported }

func (m *Manager) AddWireGuard(context.Context, string) error { return ErrUnsupported }

func (m *Manager) Delete(context.Context, string) error { return ErrUnsupported }

func (m *Manager) SetUp(context.Context, string, bool) error { return ErrUnsupported }

func (m *Manager) SetMTU(context.Context, string, int) error { return ErrUnsupported }

func (m *Manager) SetHardwareAddr(context.Context, string, string) error { return ErrUnsupported }

func (m *Manager) SetMaster(context.Context, string, string) error { return ErrUnsupported }

func (m *Manager) Ports(context.Context, string) ([]string, error) { return nil, ErrUnsupported }

// Package netlink manages the kernel network links that virtops entities
// are made of: veth pairs, bridges and WireGuard interfaces.
package netlink

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/containerd/errdefs"
)

// Link is the observed state of one kernel network link.
type Link struct {
	Name         string
	Type         string
	Index        int
	MTU          int
	Up           bool
	HardwareAddr string
	// Master is the name of the bridge the link is enslaved to, if any.
	Master string
}

// ErrUnsupported is returned on platforms without netlink.
var ErrUnsupported = errors.New("link management is only supported on linux")

// IsNotFound reports whether err means the link does not exist.
func IsNotFound(err error) bool {
	return errdefs.IsNotFound(err)
}

func notFound(name string) error {
	return fmt.Errorf("link %q: %w", name, errdefs.ErrNotFound)
}

// ParseMAC validates and normalizes a hardware address to lowercase
// colon-separated form.
func ParseMAC(s string) (string, error) {
	hw, err := net.ParseMAC(strings.TrimSpace(s))
	if err != nil {
		return "", fmt.Errorf("parse mac address %q: %w", s, err)
	}
	if len(hw) != 6 {
		return "", fmt.Errorf("mac address %q: want 6 bytes, got %d", s, len(hw))
	}
	return hw.String(), nil
}

// ValidName reports whether name can be used as a kernel interface name.
func ValidName(name string) error {
	switch {
	case name == "":
		return errors.New("interface name is required")
	case len(name) > 15:
		return fmt.Errorf("interface name %q is longer than 15 bytes", name)
	case strings.ContainsAny(name, "/ \t\n:"):
		return fmt.Errorf("interface name %q contains an invalid character", name)
	case name == "." || name == "..":
		return fmt.Errorf("interface name %q is reserved", name)
	}
	return nil
}

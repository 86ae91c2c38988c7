package wireguard

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/containerd/errdefs"
	"golang.zx2c4.com/wireguard/wgctrl"
	"golang.zx2c4.com/wireguard/wgctrl/wgtypes"
)

// Device is the observed configuration of a WireGuard interface.
type Device struct {
	Name       string
	PublicKey  string
	ListenPort int
	Peers      int
}

// Config is the configuration applied to an interface. A nil PrivateKey
// leaves the key unchanged.
type Config struct {
	PrivateKey *wgtypes.Key
	ListenPort int
}

// Client talks to WireGuard devices through wgctrl.
type Client struct{}

func NewClient() *Client { return &Client{} }

// Configure applies cfg to the named interface without touching its peers.
func (c *Client) Configure(_ context.Context, name string, cfg Config) error {
	wg, err := wgctrl.New()
	if err != nil {
		return fmt.Errorf("create wireguard client: %w", err)
	}
	defer wg.Close()

	port := cfg.ListenPort
	wgCfg := wgtypes.Config{PrivateKey: cfg.PrivateKey, ListenPort: &port}
	if err := wg.ConfigureDevice(name, wgCfg); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("wireguard device %q: %w", name, errdefs.ErrNotFound)
		}
		return fmt.Errorf("configure wireguard device %s: %w", name, err)
	}
	return nil
}

// Device reads the configuration of the named interface.
func (c *Client) Device(_ context.Context, name string) (Device, error) {
	wg, err := wgctrl.New()
	if err != nil {
		return Device{}, fmt.Errorf("create wireguard client: %w", err)
	}
	defer wg.Close()

	dev, err := wg.Device(name)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Device{}, fmt.Errorf("wireguard device %q: %w", name, errdefs.ErrNotFound)
		}
		return Device{}, fmt.Errorf("inspect wireguard device %s: %w", name, err)
	}
	return Device{
		Name:       dev.Name,
		PublicKey:  dev.PublicKey.String(),
		ListenPort: dev.ListenPort,
		Peers:      len(dev.Peers),
	}, nil
}

// GenerateKey returns a new private key in its base64 form.
func GenerateKey() (string, error) {
	k, err := wgtypes.GeneratePrivateKey()
	if err != nil {
		return "", fmt.Errorf("generate wireguard key: %w", err)
	}
	return k.String(), nil
}

// ParseKey parses a base64 private key.
func ParseKey(s string) (wgtypes.Key, error) {
	k, err := wgtypes.ParseKey(s)
	if err != nil {
		return wgtypes.Key{}, fmt.Errorf("parse wireguard key: %w", err)
	}
	return k, nil
}

// PublicKey derives the base64 public key of a base64 private key.
func PublicKey(private string) (string, error) {
	k, err := ParseKey(private)
	if err != nil {
		return "", err
	}
	return k.PublicKey().String(), nil
}

package kvmvm

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Seed holds the NoCloud documents packed into the cloud-init ISO.
type Seed struct {
	UserData      []byte
	MetaData      []byte
	NetworkConfig []byte
}

type metaData struct {
	InstanceID    string `yaml:"instance-id"`
	LocalHostname string `yaml:"local-hostname"`
}

type userData struct {
	Hostname         string `yaml:"hostname"`
	PreserveHostname bool   `yaml:"preserve_hostname"`
}

type networkConfig struct {
	Version   int                 `yaml:"version"`
	Ethernets map[string]ethernet `yaml:"ethernets"`
}

type ethernet struct {
	Match     map[string]string `yaml:"match"`
	SetName   string            `yaml:"set-name,omitempty"`
	DHCP4     bool              `yaml:"dhcp4"`
	Addresses []string          `yaml:"addresses,omitempty"`
	Routes    []route           `yaml:"routes,omitempty"`
}

type route struct {
	To  string `yaml:"to"`
	Via string `yaml:"via"`
}

// BuildSeed renders the cloud-init documents for a VM. Interfaces are
// matched by MAC address and named eth0, eth1, ... in declaration order.
func BuildSeed(name string, s Spec) (Seed, error) {
	meta, err := yaml.Marshal(metaData{InstanceID: name, LocalHostname: name})
	if err != nil {
		return Seed{}, fmt.Errorf("render meta-data: %w", err)
	}
	user, err := yaml.Marshal(userData{Hostname: name})
	if err != nil {
		return Seed{}, fmt.Errorf("render user-data: %w", err)
	}

	cfg := networkConfig{Version: 2, Ethernets: make(map[string]ethernet, len(s.Networks))}
	for i, n := range s.Networks {
		iface := fmt.Sprintf("eth%d", i)
		eth := ethernet{
			Match:   map[string]string{"macaddress": n.MacAddress},
			SetName: iface,
		}
		if n.UseDHCP4 != nil && *n.UseDHCP4 {
			eth.DHCP4 = true
		} else {
			eth.Addresses = []string{n.IP4}
			eth.Routes = []route{{To: "default", Via: n.Gateway4}}
		}
		cfg.Ethernets[iface] = eth
	}
	network, err := yaml.Marshal(cfg)
	if err != nil {
		return Seed{}, fmt.Errorf("render network-config: %w", err)
	}

	return Seed{
		UserData:      append([]byte("#cloud-config\n"), user...),
		MetaData:      meta,
		NetworkConfig: network,
	}, nil
}

// Write stores the seed documents in dir under the file names NoCloud
// expects and returns their paths.
func (s Seed) Write(dir string) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cloud-init directory: %w", err)
	}
	files := []struct {
		name string
		data []byte
	}{
		{"user-data", s.UserData},
		{"meta-data", s.MetaData},
		{"network-config", s.NetworkConfig},
	}
	paths := make([]string, 0, len(files))
	for _, f := range files {
		p := filepath.Join(dir, f.name)
		if err := os.WriteFile(p, f.data, 0o644); err != nil {
			return nil, fmt.Errorf("write %s: %w", f.name, err)
		}
		paths = append(paths, p)
	}
	return paths, nil
}

package kvmvm

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"
)

func TestBuildSeed(t *testing.T) {
	dhcp, static := true, false
	s := Spec{Networks: []Network{
		{IfaceType: IfaceBridge, BridgeName: "br0", MacAddress: "0e:00:00:00:00:01", UseDHCP4: &dhcp},
		{IfaceType: IfaceMacVTap, BridgeName: "eth0", MacAddress: "0e:00:00:00:00:02", UseDHCP4: &static, IP4: "10.0.0.5/24", Gateway4: "10.0.0.1"},
	}}
	seed, err := BuildSeed("web", s)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(seed.UserData), "#cloud-config\n") {
		t.Errorf("user-data = %q", seed.UserData)
	}

	var meta map[string]string
	if err := yaml.Unmarshal(seed.MetaData, &meta); err != nil {
		t.Fatal(err)
	}
	if meta["instance-id"] != "web" || meta["local-hostname"] != "web" {
		t.Errorf("meta-data = %v", meta)
	}

	var net networkConfig
	if err := yaml.Unmarshal(seed.NetworkConfig, &net); err != nil {
		t.Fatal(err)
	}
	if net.Version != 2 || len(net.Ethernets) != 2 {
		t.Fatalf("network-config = %+v", net)
	}
	if eth := net.Ethernets["eth0"]; !eth.DHCP4 || eth.Match["macaddress"] != "0e:00:00:00:00:01" {
		t.Errorf("eth0 = %+v", eth)
	}
	eth1 := net.Ethernets["eth1"]
	if eth1.DHCP4 || len(eth1.Addresses) != 1 || eth1.Addresses[0] != "10.0.0.5/24" {
		t.Errorf("eth1 = %+v", eth1)
	}
	if len(eth1.Routes) != 1 || eth1.Routes[0].Via != "10.0.0.1" {
		t.Errorf("eth1 routes = %+v", eth1.Routes)
	}
}

func TestSeedWrite(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "ci")
	paths, err := Seed{UserData: []byte("u"), MetaData: []byte("m"), NetworkConfig: []byte("n")}.Write(dir)
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]string{"user-data": "u", "meta-data": "m", "network-config": "n"}
	if len(paths) != len(want) {
		t.Fatalf("paths = %v", paths)
	}
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			t.Fatal(err)
		}
		if want[filepath.Base(p)] != string(data) {
			t.Errorf("%s = %q", p, data)
		}
	}
}

func TestResolve(t *testing.T) {
	s := Spec{VMPath: "/vms/web"}
	tests := map[string]string{
		"{vmPath}/root.qcow2": "/vms/web/root.qcow2",
		"seed.iso":            "/vms/web/seed.iso",
		"/images/base.qcow2":  "/images/base.qcow2",
	}
	for in, want := range tests {
		if got := s.resolve(in); got != want {
			t.Errorf("resolve(%q) = %q, want %q", in, got, want)
		}
	}
}

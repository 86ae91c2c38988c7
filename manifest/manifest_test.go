package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"virtops"
)

func TestDecode_FormatsAgree(t *testing.T) {
	docs := map[Format]string{
		JSON: `{"imagePath": "/var/lib/img/base.qcow2", "sizeInGB": 10, "status": "active", "disks": [{"path": "a"}]}`,
		JSONC: `{
			// base image for the lab
			"imagePath": "/var/lib/img/base.qcow2",
			"sizeInGB": 10,
			"status": "active",
			"disks": [{"path": "a"},],
		}`,
		YAML: "imagePath: /var/lib/img/base.qcow2\nsizeInGB: 10\nstatus: active\ndisks:\n  - path: a\n",
		TOML: "imagePath = \"/var/lib/img/base.qcow2\"\nsizeInGB = 10\nstatus = \"active\"\n[[disks]]\npath = \"a\"\n",
	}

	var first *virtops.Record
	for format, doc := range docs {
		rec, err := Decode([]byte(doc), format)
		if err != nil {
			t.Fatalf("Decode(%s) error = %v", format, err)
		}
		if rec.Status != virtops.StatusActive {
			t.Errorf("Decode(%s) status = %v", format, rec.Status)
		}
		if rec.Fields["sizeInGB"] != float64(10) {
			t.Errorf("Decode(%s) sizeInGB = %#v, want float64(10)", format, rec.Fields["sizeInGB"])
		}
		if first == nil {
			first = rec
			continue
		}
		if !first.Equal(rec) {
			t.Errorf("Decode(%s) = %+v, differs from %+v", format, rec, first)
		}
	}
}

func TestDecode_Errors(t *testing.T) {
	tests := []struct {
		name   string
		doc    string
		format Format
	}{
		{name: "bad status", doc: `{"status": "paused"}`, format: JSON},
		{name: "not an object", doc: `[1, 2]`, format: JSON},
		{name: "empty yaml", doc: ``, format: YAML},
		{name: "broken toml", doc: `a = `, format: TOML},
		{name: "unknown format", doc: `{}`, format: "xml"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Decode([]byte(tt.doc), tt.format); err == nil {
				t.Fatal("Decode() expected error")
			}
		})
	}
}

func TestReadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "br0.yml")
	if err := os.WriteFile(path, []byte("bridgeType: linuxBridge\ninterfaces: [eth0]\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	rec, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if rec.Status != virtops.StatusActive || rec.Fields["bridgeType"] != "linuxBridge" {
		t.Errorf("ReadFile() = %+v", rec)
	}

	if _, err := ReadFile(filepath.Join(dir, "br0.ini")); err == nil {
		t.Error("ReadFile() expected error for unknown extension")
	}
}

func TestEncodeDecode(t *testing.T) {
	rec := virtops.MustRecord(virtops.StatusDeleted, virtops.Fields{"mtu": 1500, "veth0": "v0"})
	for _, format := range []Format{JSON, YAML, TOML} {
		data, err := Encode(rec, format)
		if err != nil {
			t.Fatalf("Encode(%s) error = %v", format, err)
		}
		back, err := Decode(data, format)
		if err != nil {
			t.Fatalf("Decode(%s) error = %v", format, err)
		}
		if !back.Equal(rec) {
			t.Errorf("%s round trip = %+v, want %+v", format, back, rec)
		}
	}
}

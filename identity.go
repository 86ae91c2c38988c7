package virtops

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Identity names one managed entity: its kind and its name within that kind.
type Identity struct {
	Kind string
	Name string
}

func (id Identity) String() string {
	return id.Kind + "/" + id.Name
}

// Validate rejects identities that cannot be used as store keys or file names.
func (id Identity) Validate() error {
	if err := validateSegment("kind", id.Kind); err != nil {
		return err
	}
	return validateSegment("name", id.Name)
}

// ParseIdentity parses the "kind/name" form.
func ParseIdentity(s string) (Identity, error) {
	kind, name, ok := strings.Cut(strings.TrimSpace(s), "/")
	if !ok {
		return Identity{}, fmt.Errorf("identity %q: expected kind/name", s)
	}
	id := Identity{Kind: kind, Name: name}
	if err := id.Validate(); err != nil {
		return Identity{}, fmt.Errorf("identity %q: %w", s, err)
	}
	return id, nil
}

// NameFromPath derives an entity name from a desired-state file path by
// dropping the directory and the extension: "vms/web-01.yaml" -> "web-01".
func NameFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func validateSegment(field, v string) error {
	switch {
	case strings.TrimSpace(v) == "":
		return fmt.Errorf("%s is required", field)
	case v != strings.TrimSpace(v):
		return fmt.Errorf("%s %q has surrounding whitespace", field, v)
	case strings.ContainsAny(v, `/\`) || v == "." || v == "..":
		return fmt.Errorf("%s %q is not a valid path segment", field, v)
	case strings.HasPrefix(v, "."):
		return fmt.Errorf("%s %q must not start with a dot", field, v)
	}
	return nil
}

// Package platform wires the engine to the host: it registers the entity
// kinds, opens the configured state store and builds the real link,
// WireGuard and command backends the operators run against.
package platform

package bridge

import (
	"crypto/rand"
	"fmt"
	"io"
)

// GenerateMAC returns a random locally administered unicast address with
// the fixed first octet 0e.
func GenerateMAC(r io.Reader) (string, error) {
	if r == nil {
		r = rand.Reader
	}
	var b [5]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return "", fmt.Errorf("generate mac address: %w", err)
	}
	return fmt.Sprintf("0e:%02x:%02x:%02x:%02x:%02x", b[0], b[1], b[2], b[3], b[4]), nil
}

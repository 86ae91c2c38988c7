package ui

import (
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
)

const (
	envNoInteraction = "VIRTOPS_NO_INTERACTION"
	envCI            = "CI"
	envTerm          = "TERM"
)

// ConfigureInteraction decides whether a person is watching stderr and picks
// the colour profile accordingly. disabled forces plain output.
func ConfigureInteraction(disabled bool) bool {
	on := !disabled && terminalAttached()

	profile := termenv.Ascii
	if on {
		profile = termenv.ColorProfile()
	}
	lipgloss.SetColorProfile(profile)
	return on
}

func terminalAttached() bool {
	if envTruthy(envNoInteraction) || envTruthy(envCI) {
		return false
	}
	if strings.EqualFold(strings.TrimSpace(os.Getenv(envTerm)), "dumb") {
		return false
	}
	info, err := os.Stderr.Stat()
	return err == nil && info.Mode()&os.ModeCharDevice != 0
}

func envTruthy(key string) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

package platform

import (
	"net/http"
	"time"

	"virtops/config"
	"virtops/infra/netlink"
	"virtops/infra/wireguard"
	"virtops/internal/command"
)

// downloadTimeout bounds a whole image download.
const downloadTimeout = 2 * time.Hour

// HostDeps returns the backends acting on this machine.
func HostDeps(cfg *config.Config) Deps {
	return Deps{
		Links:      netlink.NewManager(),
		WireGuard:  wireguard.NewClient(),
		Runner:     command.NewExec(command.WithSudo(cfg.Sudo)),
		HTTP:       &http.Client{Timeout: downloadTimeout},
		LibvirtURI: cfg.LibvirtURI,
	}
}

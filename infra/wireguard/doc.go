// Package wireguard configures the key and listen port of kernel WireGuard
// interfaces. Creating and deleting the interfaces themselves is done by
// infra/netlink.
package wireguard

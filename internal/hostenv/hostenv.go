// Package hostenv implements the HostEnv capability spec.md §6 describes:
// hostname lookup, interface address enumeration with the same VPN/Docker
// exclusion the teacher applies to interface selection, and a local-address
// test the probe/responder/transport layers use to classify inbound
// packets as loopback-originated.
package hostenv

import (
	"net"
	"os"
	"strings"

	"github.com/joshuafuller/beacon/internal/protocol"
)

// HostEnv is the capability the core consumes instead of touching the OS
// directly, so tests can supply a fake implementation.
type HostEnv interface {
	Hostname() (string, error)
	Interfaces() ([]net.Interface, error)
	IPv4Addresses(iface net.Interface) ([]net.IP, error)
	IPv6Addresses(iface net.Interface) ([]net.IP, error)
	IsLocalAddress(ip net.IP) bool
}

// OSHostEnv is the default implementation, backed by the standard library.
type OSHostEnv struct {
	localAddrs map[string]bool
}

// NewOSHostEnv builds a HostEnv backed by the local OS, pre-populating the
// local-address set from every address of every interface at construction
// time. Interfaces that come up later are picked up the next time a
// transport calls Interfaces/IPv4Addresses.
func NewOSHostEnv() (*OSHostEnv, error) {
	h := &OSHostEnv{localAddrs: make(map[string]bool)}
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	for _, iface := range ifaces {
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			if ipNet, ok := addr.(*net.IPNet); ok {
				h.localAddrs[ipNet.IP.String()] = true
			}
		}
	}
	return h, nil
}

// Hostname returns the OS hostname.
func (h *OSHostEnv) Hostname() (string, error) { return os.Hostname() }

// Interfaces returns the interfaces suitable for mDNS multicast: up,
// multicast-capable, non-loopback, and not a VPN or container bridge
// interface, grounded in the teacher's DefaultInterfaces filter set.
func (h *OSHostEnv) Interfaces() ([]net.Interface, error) {
	all, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	filtered := make([]net.Interface, 0, len(all))
	for _, iface := range all {
		if iface.Flags&net.FlagUp == 0 {
			continue
		}
		if iface.Flags&net.FlagMulticast == 0 {
			continue
		}
		if iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		if isVPN(iface.Name) || isDocker(iface.Name) {
			continue
		}
		filtered = append(filtered, iface)
	}
	return filtered, nil
}

// IPv4Addresses returns iface's IPv4 addresses.
func (h *OSHostEnv) IPv4Addresses(iface net.Interface) ([]net.IP, error) {
	return addressesOfFamily(iface, func(ip net.IP) bool { return ip.To4() != nil })
}

// IPv6Addresses returns iface's link-local IPv6 addresses, the only scope
// this core advertises.
func (h *OSHostEnv) IPv6Addresses(iface net.Interface) ([]net.IP, error) {
	return addressesOfFamily(iface, func(ip net.IP) bool { return ip.To4() == nil && ip.IsLinkLocalUnicast() })
}

func addressesOfFamily(iface net.Interface, match func(net.IP) bool) ([]net.IP, error) {
	addrs, err := iface.Addrs()
	if err != nil {
		return nil, err
	}
	var out []net.IP
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok || !match(ipNet.IP) {
			continue
		}
		out = append(out, ipNet.IP)
	}
	return out, nil
}

// IsLocalAddress reports whether ip belongs to this host, used to classify
// inbound packets whose source is actually one of our own sends looped
// back by the OS.
func (h *OSHostEnv) IsLocalAddress(ip net.IP) bool {
	return h.localAddrs[ip.String()]
}

func isVPN(name string) bool {
	for _, prefix := range []string{"utun", "tun", "ppp", "wg", "tailscale", "wireguard"} {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

func isDocker(name string) bool {
	if name == "docker0" {
		return true
	}
	for _, prefix := range []string{"veth", "br-"} {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

// BindTarget names the address and port a transport should bind to when no
// specific interface address is available. The fallback's Address field
// corrects the source implementation's "adderss" typo for its
// any-address/INADDR_ANY default.
type BindTarget struct {
	Address string
	Port    int
}

// AnyAddressBindTarget returns the INADDR_ANY fallback bind target.
func AnyAddressBindTarget() BindTarget {
	return BindTarget{Address: "0.0.0.0", Port: protocol.Port}
}

package security

import "net"

// ValidateDestination reports whether the transport may send a unicast
// packet to ip, per spec.md §4.5: refuse anything that isn't link-local
// scope. Multicast destinations (the mDNS groups themselves) are always
// permitted. This is the outbound counterpart of the teacher's
// SourceFilter.IsValid, with the polarity inverted: SourceFilter decides
// whether to *accept* an inbound source as plausibly ours or local;
// ValidateDestination decides whether to *refuse* sending somewhere that
// has leaked outside the local segment.
func ValidateDestination(ip net.IP) bool {
	if ip == nil {
		return false
	}
	if ip.IsMulticast() {
		return true
	}
	if ip4 := ip.To4(); ip4 != nil {
		if isIPv4LinkLocal(ip4) {
			return true
		}
		return false
	}
	return ip.IsLinkLocalUnicast()
}

func isIPv4LinkLocal(ip4 net.IP) bool {
	return ip4[0] == 169 && ip4[1] == 254
}

// isRefusedIPv4 reports whether ip4 falls in one of the named private/
// loopback ranges spec.md calls out explicitly (10/8, 127/8, 172.16/12,
// 192.168/16). ValidateDestination already refuses these as a consequence
// of not being link-local; this helper exists for callers (tests, logging)
// that want to name the specific range a rejected destination fell into.
func isRefusedIPv4(ip4 net.IP) bool {
	switch {
	case ip4[0] == 10:
		return true
	case ip4[0] == 127:
		return true
	case ip4[0] == 172 && ip4[1] >= 16 && ip4[1] <= 31:
		return true
	case ip4[0] == 192 && ip4[1] == 168:
		return true
	}
	return false
}

// isRefusedIPv6 reports whether ip falls into the loopback or
// unique-local ranges spec.md names (::1, fc00::/7, which covers fd00::/8).
func isRefusedIPv6(ip net.IP) bool {
	if ip.IsLoopback() {
		return true
	}
	return len(ip) == net.IPv6len && ip[0]&0xfe == 0xfc
}

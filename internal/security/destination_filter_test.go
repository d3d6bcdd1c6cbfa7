package security

import (
	"net"
	"testing"
)

func TestValidateDestinationAllowsMulticast(t *testing.T) {
	if !ValidateDestination(net.ParseIP("224.0.0.251")) {
		t.Fatal("IPv4 multicast group must always be sendable")
	}
	if !ValidateDestination(net.ParseIP("ff02::fb")) {
		t.Fatal("IPv6 multicast group must always be sendable")
	}
}

func TestValidateDestinationAllowsLinkLocal(t *testing.T) {
	if !ValidateDestination(net.ParseIP("169.254.1.2")) {
		t.Fatal("IPv4 link-local destination must be allowed")
	}
	if !ValidateDestination(net.ParseIP("fe80::1")) {
		t.Fatal("IPv6 link-local destination must be allowed")
	}
}

func TestValidateDestinationRefusesPrivateRanges(t *testing.T) {
	refused := []string{"10.0.0.5", "127.0.0.1", "172.16.0.5", "192.168.1.1"}
	for _, addr := range refused {
		if ValidateDestination(net.ParseIP(addr)) {
			t.Errorf("ValidateDestination(%s) = true, want false", addr)
		}
	}
}

func TestValidateDestinationRefusesIPv6Loopback(t *testing.T) {
	if ValidateDestination(net.ParseIP("::1")) {
		t.Fatal("IPv6 loopback must be refused")
	}
}

func TestIsRefusedHelpers(t *testing.T) {
	if !isRefusedIPv4(net.ParseIP("10.1.2.3").To4()) {
		t.Fatal("expected 10/8 to be named as refused")
	}
	if !isRefusedIPv6(net.ParseIP("fd00::1")) {
		t.Fatal("expected fd00::/8 to be named as refused")
	}
}

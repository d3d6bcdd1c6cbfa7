package responder

import (
	"net"
	"testing"

	"github.com/joshuafuller/beacon/internal/transport"
)

type fakeHostEnv struct{}

func (fakeHostEnv) Hostname() (string, error) { return "testhost", nil }
func (fakeHostEnv) Interfaces() ([]net.Interface, error) {
	return []net.Interface{{Name: "eth0"}}, nil
}
func (fakeHostEnv) IPv4Addresses(net.Interface) ([]net.IP, error) {
	return []net.IP{net.ParseIP("10.0.0.5")}, nil
}
func (fakeHostEnv) IPv6Addresses(net.Interface) ([]net.IP, error) { return nil, nil }
func (fakeHostEnv) IsLocalAddress(net.IP) bool                    { return false }

func TestServiceValidateRejectsBadServiceType(t *testing.T) {
	svc := Service{InstanceName: "Printer", ServiceType: "not-a-type", Port: 631}
	if err := svc.Validate(); err == nil {
		t.Fatal("expected validation error for malformed service type")
	}
}

func TestServiceValidateAccepts(t *testing.T) {
	svc := Service{InstanceName: "Printer", ServiceType: "_ipp._tcp", Port: 631}
	if err := svc.Validate(); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
}

func TestAdvertiseStartsOneResponderPerTransport(t *testing.T) {
	mt := transport.NewMockTransport()
	svc := Service{InstanceName: "Printer", ServiceType: "_ipp._tcp", Port: 631, TXT: map[string]string{"txtvers": "1"}}

	ad, err := Advertise([]transport.Transport{mt}, fakeHostEnv{}, svc)
	if err != nil {
		t.Fatalf("Advertise: %v", err)
	}
	defer ad.Stop()

	if len(ad.responders) != 1 {
		t.Fatalf("expected 1 responder, got %d", len(ad.responders))
	}
}

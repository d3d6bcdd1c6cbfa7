// Package responder is the public façade for advertising an mDNS/DNS-SD
// service instance: it assembles the PTR/SRV/TXT/A/AAAA record set,
// resolves a Transport per interface, and drives an internal responder
// state machine per interface.
package responder

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/joshuafuller/beacon/internal/errors"
	"github.com/joshuafuller/beacon/internal/hostenv"
	"github.com/joshuafuller/beacon/internal/protocol"
	"github.com/joshuafuller/beacon/internal/responder"
	"github.com/joshuafuller/beacon/internal/rr"
	"github.com/joshuafuller/beacon/internal/transport"
)

// Service describes the service instance to advertise per RFC 6763 §4.
type Service struct {
	InstanceName string            // human-readable instance name, e.g. "My Printer"
	ServiceType  string            // "_service._proto", e.g. "_ipp._tcp"
	Domain       string            // defaults to "local" if empty
	Port         uint16
	TXT          map[string]string
	Hostname     string // defaults to the system hostname if empty
}

var serviceTypeRegex = regexp.MustCompile(`^_[a-zA-Z0-9-]+\._(tcp|udp)$`)

// Validate checks the service fields per RFC 1035/6763 naming limits.
func (s *Service) Validate() error {
	if s.InstanceName == "" {
		return &errors.ValidationError{Field: "InstanceName", Message: "must not be empty"}
	}
	if len(s.InstanceName) > protocol.MaxLabelLength {
		return &errors.ValidationError{Field: "InstanceName", Value: s.InstanceName, Message: "exceeds 63 octets"}
	}
	if !serviceTypeRegex.MatchString(s.ServiceType) {
		return &errors.ValidationError{Field: "ServiceType", Value: s.ServiceType, Message: "must match _service._proto"}
	}
	if s.Port == 0 {
		return &errors.ValidationError{Field: "Port", Value: strconv.Itoa(int(s.Port)), Message: "must be in 1-65535"}
	}
	return nil
}

func (s *Service) domain() string {
	if s.Domain == "" {
		return "local"
	}
	return s.Domain
}

func (s *Service) resolveHostname(h hostenv.HostEnv) string {
	if s.Hostname != "" {
		return s.Hostname
	}
	name, err := h.Hostname()
	if err != nil {
		return "localhost"
	}
	return name
}

// Advertisement is a running service advertisement: one internal responder
// per bound network interface, all sharing the same record set.
type Advertisement struct {
	service    Service
	transports []transport.Transport
	responders []*responder.Responder
}

// Advertise builds the record set for svc and starts probing/announcing it
// on every interface transport provides.
func Advertise(transports []transport.Transport, henv hostenv.HostEnv, svc Service) (*Advertisement, error) {
	if err := svc.Validate(); err != nil {
		return nil, err
	}

	host := svc.resolveHostname(henv)
	hostFQDN := fmt.Sprintf("%s.%s.", host, svc.domain())
	instanceFQDN := fmt.Sprintf("%s.%s._%s.%s.", svc.InstanceName, strings.SplitN(svc.ServiceType, "._", 2)[0], protoOf(svc.ServiceType), svc.domain())
	typeFQDN := fmt.Sprintf("_%s._%s.%s.", strings.TrimPrefix(strings.SplitN(svc.ServiceType, "._", 2)[0], "_"), protoOf(svc.ServiceType), svc.domain())

	records, err := buildRecordSet(typeFQDN, instanceFQDN, hostFQDN, svc, henv)
	if err != nil {
		return nil, err
	}

	ad := &Advertisement{service: svc, transports: transports}
	for _, tr := range transports {
		tr.Acquire()
		resp := responder.New(tr, records, responder.Options{})
		resp.Start()
		ad.responders = append(ad.responders, resp)
	}
	return ad, nil
}

func protoOf(serviceType string) string {
	if strings.Contains(serviceType, "_udp") {
		return "udp"
	}
	return "tcp"
}

func buildRecordSet(typeFQDN, instanceFQDN, hostFQDN string, svc Service, henv hostenv.HostEnv) ([]*rr.Record, error) {
	var entries []rr.TXTEntry
	for k, v := range svc.TXT {
		entries = append(entries, rr.TXTEntry{Key: k, Value: []byte(v)})
	}

	srv := &rr.Record{
		Name: instanceFQDN, Class: protocol.ClassIN, TTL: protocol.DefaultTTLSRV, Unique: true,
		Data: rr.SRVData{Priority: 0, Weight: 0, Port: svc.Port, Target: hostFQDN},
	}
	txt := &rr.Record{
		Name: instanceFQDN, Class: protocol.ClassIN, TTL: protocol.DefaultTTLTXT, Unique: true,
		Data: rr.TXTData{Entries: entries},
	}
	ptr := &rr.Record{
		Name: typeFQDN, Class: protocol.ClassIN, TTL: protocol.DefaultTTLPTR, Unique: false,
		Data:       rr.PTRData{Target: instanceFQDN},
		Additional: []*rr.Record{srv, txt},
	}

	recs := []*rr.Record{srv, txt, ptr}
	ifaces, err := henv.Interfaces()
	if err != nil {
		return nil, err
	}
	for _, iface := range ifaces {
		v4, err := henv.IPv4Addresses(iface)
		if err != nil {
			continue
		}
		for _, ip := range v4 {
			recs = append(recs, &rr.Record{Name: hostFQDN, Class: protocol.ClassIN, TTL: protocol.DefaultTTLAddress, Unique: true, Data: rr.AData{IP: ip}})
		}
		v6, err := henv.IPv6Addresses(iface)
		if err != nil {
			continue
		}
		for _, ip := range v6 {
			recs = append(recs, &rr.Record{Name: hostFQDN, Class: protocol.ClassIN, TTL: protocol.DefaultTTLAddress, Unique: true, Data: rr.AAAAData{IP: ip}})
		}
	}
	return recs, nil
}

// Stop gracefully shuts down every per-interface responder, sending
// goodbyes for verified records.
func (a *Advertisement) Stop() {
	for i, resp := range a.responders {
		resp.Stop()
		a.transports[i].Release()
	}
}

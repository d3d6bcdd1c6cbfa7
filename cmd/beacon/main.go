// Command beacon advertises, browses, and resolves mDNS/DNS-SD services
// from the command line.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joshuafuller/beacon/internal/hostenv"
	"github.com/joshuafuller/beacon/internal/transport"
	"github.com/joshuafuller/beacon/querier"
	"github.com/joshuafuller/beacon/responder"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "advertise":
		err = runAdvertise(os.Args[2:])
	case "browse":
		err = runBrowse(os.Args[2:])
	case "resolve":
		err = runResolve(os.Args[2:])
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "beacon: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: beacon <advertise|browse|resolve> [flags]")
}

func bindTransports(v6 bool) ([]transport.Transport, hostenv.HostEnv, error) {
	henv, err := hostenv.NewOSHostEnv()
	if err != nil {
		return nil, nil, err
	}
	ifaces, err := henv.Interfaces()
	if err != nil {
		return nil, nil, err
	}
	var transports []transport.Transport
	for _, iface := range ifaces {
		ut := transport.NewUDPTransport(iface, henv, v6)
		if err := ut.Bind(); err != nil {
			continue
		}
		transports = append(transports, ut)
	}
	if len(transports) == 0 {
		return nil, nil, fmt.Errorf("no usable network interfaces")
	}
	return transports, henv, nil
}

func waitForSignal(ctx context.Context) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigCh:
	case <-ctx.Done():
	}
}

func runAdvertise(args []string) error {
	fs := flag.NewFlagSet("advertise", flag.ExitOnError)
	instance := fs.String("name", "", "service instance name")
	serviceType := fs.String("type", "", "service type, e.g. _http._tcp")
	port := fs.Int("port", 0, "service port")
	domain := fs.String("domain", "local", "service domain")
	txt := fs.String("txt", "", "comma-separated key=value TXT pairs")
	if err := fs.Parse(args); err != nil {
		return err
	}

	transports, henv, err := bindTransports(false)
	if err != nil {
		return err
	}

	svc := responder.Service{
		InstanceName: *instance,
		ServiceType:  *serviceType,
		Domain:       *domain,
		Port:         uint16(*port),
		TXT:          parseTXT(*txt),
	}
	ad, err := responder.Advertise(transports, henv, svc)
	if err != nil {
		return err
	}
	defer ad.Stop()

	fmt.Printf("advertising %s.%s._%s on port %d\n", *instance, *serviceType, *domain, *port)
	waitForSignal(context.Background())
	return nil
}

func parseTXT(s string) map[string]string {
	out := map[string]string{}
	if s == "" {
		return out
	}
	for _, pair := range strings.Split(s, ",") {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) == 2 {
			out[kv[0]] = kv[1]
		} else {
			out[kv[0]] = ""
		}
	}
	return out
}

func runBrowse(args []string) error {
	fs := flag.NewFlagSet("browse", flag.ExitOnError)
	serviceType := fs.String("type", "", "service type, e.g. _http._tcp")
	domain := fs.String("domain", "local", "service domain")
	timeout := fs.Duration("timeout", 0, "how long to browse (0 = until interrupted)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	transports, _, err := bindTransports(false)
	if err != nil {
		return err
	}

	b := querier.Browse(transports[0], *serviceType, *domain, querier.BrowseOptions{
		OnAdd:    func(i querier.Instance) { fmt.Printf("+ %s\n", i.Fullname) },
		OnRemove: func(i querier.Instance) { fmt.Printf("- %s\n", i.Fullname) },
	})
	defer b.Stop()

	ctx := context.Background()
	if *timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *timeout)
		defer cancel()
	}
	waitForSignal(ctx)
	return nil
}

func runResolve(args []string) error {
	fs := flag.NewFlagSet("resolve", flag.ExitOnError)
	fullname := fs.String("name", "", "full instance name, e.g. Printer._ipp._tcp.local.")
	if err := fs.Parse(args); err != nil {
		return err
	}

	transports, _, err := bindTransports(false)
	if err != nil {
		return err
	}

	done := make(chan struct{})
	r := querier.Resolve(transports[0], *fullname, querier.ResolveOptions{
		OnResolved: func(s querier.Service) {
			fmt.Printf("%s -> %s:%d %v\n", s.Fullname, s.Target, s.Port, s.Addrs)
			close(done)
		},
	})
	defer r.Stop()

	select {
	case <-done:
	case <-time.After(15 * time.Second):
		return fmt.Errorf("timed out resolving %s", *fullname)
	}
	return nil
}

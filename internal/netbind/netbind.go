// Package netbind enumerates local interface addresses and attempts
// independent listen binds, so the sharing server can come up on whatever
// subset of interfaces actually accepts a listener.
package netbind

import (
	"fmt"
	"net"

	"typrd/pkg/types"
)

// Binding pairs one bind outcome with its live listener (nil on failure).
type Binding struct {
	Result   types.BindingResult
	Listener net.Listener
}

// Resolver attempts binds across local interfaces. The zero value is usable;
// listInterfaces is swappable for tests.
type Resolver struct {
	listInterfaces func() ([]net.Interface, error)
}

// New returns a Resolver backed by the real interface table.
func New() *Resolver {
	return &Resolver{listInterfaces: net.Interfaces}
}

// NewWithInterfaces returns a Resolver using a fixed interface source.
// Intended for tests.
func NewWithInterfaces(fn func() ([]net.Interface, error)) *Resolver {
	return &Resolver{listInterfaces: fn}
}

// ResolveAndBind enumerates non-loopback IPv4 interface addresses fresh on
// every call (no caching) plus the loopback address, and attempts to listen
// on each independently. One failed bind never prevents the others.
// Ordering is stable within a call: loopback first, then interface order.
func (r *Resolver) ResolveAndBind(port int) []Binding {
	addrs := []string{"127.0.0.1"}
	addrs = append(addrs, r.interfaceAddrs()...)

	out := make([]Binding, 0, len(addrs))
	for _, ip := range addrs {
		hostPort := net.JoinHostPort(ip, fmt.Sprintf("%d", port))
		ln, err := net.Listen("tcp", hostPort)
		if err != nil {
			out = append(out, Binding{Result: types.BindingResult{
				Address: hostPort,
				Success: false,
				Error:   err.Error(),
			}})
			continue
		}
		// Report the listener's own address so a port-0 request shows the
		// port actually assigned.
		out = append(out, Binding{
			Result:   types.BindingResult{Address: ln.Addr().String(), Success: true},
			Listener: ln,
		})
	}
	return out
}

// interfaceAddrs returns usable non-loopback IPv4 addresses. Link-local
// (169.254.x.x) and down interfaces are skipped, mirroring what the UI
// presents as reachable share addresses.
func (r *Resolver) interfaceAddrs() []string {
	list := r.listInterfaces
	if list == nil {
		list = net.Interfaces
	}
	ifaces, err := list()
	if err != nil {
		return nil
	}
	var out []string
	for _, iface := range ifaces {
		if iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			var ip net.IP
			switch v := a.(type) {
			case *net.IPNet:
				ip = v.IP
			case *net.IPAddr:
				ip = v.IP
			}
			ip4 := ip.To4()
			if ip4 == nil || ip4.IsLoopback() || ip4.IsLinkLocalUnicast() {
				continue
			}
			out = append(out, ip4.String())
		}
	}
	return out
}

// ShareAddrs returns the displayable addresses a peer could connect to,
// without binding anything.
func (r *Resolver) ShareAddrs() []string {
	return r.interfaceAddrs()
}

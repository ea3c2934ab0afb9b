package tunnel

import (
	"errors"
	"net"
	"strconv"
	"strings"
)

// maxInterfaceIndex is the highest numeric suffix tried.
const maxInterfaceIndex = 254

// ErrNoFreeInterface is returned when every candidate name is taken.
var ErrNoFreeInterface = errors.New("no free tunnel interface name")

// AllocateInterface picks a name for a new tunnel device: the bare prefix if
// no interface carries the prefix yet, otherwise prefix+i for the lowest
// unused i in 0..254. The bare name is never reused once numbering starts.
func AllocateInterface(prefix string, existing []string) (string, error) {
	used := make(map[string]struct{}, len(existing))
	for _, name := range existing {
		if strings.HasPrefix(name, prefix) {
			used[name] = struct{}{}
		}
	}
	if len(used) == 0 {
		return prefix, nil
	}
	for i := 0; i <= maxInterfaceIndex; i++ {
		name := prefix + strconv.Itoa(i)
		if _, ok := used[name]; !ok {
			return name, nil
		}
	}
	return "", ErrNoFreeInterface
}

// Interface is a local network interface and its addresses (without masks).
type Interface struct {
	Name  string
	Addrs []string
}

// InterfaceLister enumerates local interfaces.
type InterfaceLister interface {
	Interfaces() ([]Interface, error)
}

// SystemInterfaces lists the host's interfaces.
type SystemInterfaces struct{}

func (SystemInterfaces) Interfaces() ([]Interface, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	out := make([]Interface, 0, len(ifaces))
	for _, iface := range ifaces {
		entry := Interface{Name: iface.Name}
		addrs, err := iface.Addrs()
		if err == nil {
			for _, a := range addrs {
				switch v := a.(type) {
				case *net.IPNet:
					entry.Addrs = append(entry.Addrs, v.IP.String())
				case *net.IPAddr:
					entry.Addrs = append(entry.Addrs, v.IP.String())
				}
			}
		}
		out = append(out, entry)
	}
	return out, nil
}

func interfaceNames(ifaces []Interface) []string {
	names := make([]string, 0, len(ifaces))
	for _, iface := range ifaces {
		names = append(names, iface.Name)
	}
	return names
}

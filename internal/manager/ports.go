package manager

import (
	"fmt"
	"net"
	"strconv"
	"sync"
)

// portMu serializes port selection so concurrent loads in one process do
// not pick the same port before either engine binds it.
var (
	portMu   sync.Mutex
	portNext = map[string]int{}
)

func (m *Manager) pickPort() (int, error) {
	if m.cfg.PortStart > 0 && m.cfg.PortEnd >= m.cfg.PortStart {
		return pickPortInRange(m.cfg.Host, m.cfg.PortStart, m.cfg.PortEnd)
	}
	return pickFreePort(m.cfg.Host)
}

// pickPortInRange returns the first bindable port in [start, end], starting
// after the last port handed out for this range and wrapping around.
func pickPortInRange(host string, start, end int) (int, error) {
	portMu.Lock()
	defer portMu.Unlock()
	key := fmt.Sprintf("%s:%d-%d", host, start, end)
	first := portNext[key]
	if first < start || first > end {
		first = start
	}
	n := end - start + 1
	for i := 0; i < n; i++ {
		p := start + (first-start+i)%n
		l, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(p)))
		if err != nil {
			continue
		}
		_ = l.Close()
		portNext[key] = p + 1
		return p, nil
	}
	return 0, fmt.Errorf("no free port in range %d-%d", start, end)
}

func pickFreePort(host string) (int, error) {
	l, err := net.Listen("tcp", net.JoinHostPort(host, "0"))
	if err != nil {
		return 0, err
	}
	defer l.Close()
	_, p, err := net.SplitHostPort(l.Addr().String())
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(p)
}

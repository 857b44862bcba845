package testctl

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"
)

// chooseFreePort finds an available TCP port by asking the kernel for :0
func chooseFreePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	addr := l.Addr().(*net.TCPAddr)
	return addr.Port, nil
}

func isPortBusy(port int) bool {
	conn, err := net.DialTimeout("tcp", fmt.Sprintf("127.0.0.1:%d", port), 200*time.Millisecond)
	if err == nil {
		_ = conn.Close()
		return true
	}
	return false
}

// preferOrFree returns port when nothing listens on it, else a free one.
func preferOrFree(port int) (int, error) {
	if port > 0 && !isPortBusy(port) {
		return port, nil
	}
	if port > 0 {
		warn("[ports] port %d is busy; picking a free one", port)
	}
	return chooseFreePort()
}

// waitHTTP polls url until it answers with want or ctx/timeout expires.
func waitHTTP(ctx context.Context, url string, want int, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	client := &http.Client{Timeout: 2 * time.Second}
	last := "no response"
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == want {
				return nil
			}
			last = resp.Status
		} else {
			last = err.Error()
		}
		debug("[wait] %s: %s", url, last)
		select {
		case <-time.After(250 * time.Millisecond):
		case <-ctx.Done():
			return fmt.Errorf("timed out waiting for %s to return %d (last: %s)", url, want, last)
		}
	}
}

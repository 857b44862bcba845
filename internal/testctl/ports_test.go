package testctl

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func TestChooseFreePort(t *testing.T) {
	p, err := chooseFreePort()
	if err != nil {
		t.Fatalf("chooseFreePort: %v", err)
	}
	if p <= 0 {
		t.Fatalf("invalid port: %d", p)
	}
}

func TestIsPortBusy(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port
	if !isPortBusy(port) {
		t.Fatalf("expected port busy for %d", port)
	}
	free, err := chooseFreePort()
	if err != nil {
		t.Fatal(err)
	}
	if isPortBusy(free) {
		t.Fatalf("expected port %d to be free", free)
	}
}

func TestPreferOrFree(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	busy := ln.Addr().(*net.TCPAddr).Port

	got, err := preferOrFree(busy)
	if err != nil {
		t.Fatal(err)
	}
	if got == busy || got <= 0 {
		t.Fatalf("expected a different free port, got %d", got)
	}

	free, _ := chooseFreePort()
	if got, _ := preferOrFree(free); got != free {
		t.Fatalf("expected preferred port %d, got %d", free, got)
	}
}

func TestWaitHTTP(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()
	if err := waitHTTP(context.Background(), ts.URL, http.StatusOK, 3*time.Second); err != nil {
		t.Fatalf("waitHTTP: %v", err)
	}
}

func TestWaitHTTPTimeout(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer ts.Close()
	err := waitHTTP(context.Background(), ts.URL, http.StatusOK, 400*time.Millisecond)
	if err == nil || !strings.Contains(err.Error(), "503") {
		t.Fatalf("expected timeout mentioning last status, got %v", err)
	}
}

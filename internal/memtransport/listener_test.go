package memtransport_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/masegraye/plugin-host-go/internal/memtransport"
)

func httpClient(ln *memtransport.Listener) *http.Client {
	return &http.Client{Transport: &http.Transport{DialContext: ln.DialContext}}
}

func TestAddr(t *testing.T) {
	ln := memtransport.New("echo-1a2b")
	defer ln.Close()

	addr := ln.Addr()
	if addr.Network() != "mem" {
		t.Errorf("Network() = %q, want %q", addr.Network(), "mem")
	}
	if addr.String() != "mem://echo-1a2b" {
		t.Errorf("String() = %q, want %q", addr.String(), "mem://echo-1a2b")
	}
}

func TestRoundTrip(t *testing.T) {
	ln := memtransport.New("rt")

	srv := &http.Server{Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		fmt.Fprintf(w, "echo: %s", body)
	})}
	go srv.Serve(ln)
	defer srv.Shutdown(context.Background())

	resp, err := httpClient(ln).Post("http://rt/echo", "text/plain", strings.NewReader("ping"))
	if err != nil {
		t.Fatalf("POST failed: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if string(body) != "echo: ping" {
		t.Errorf("body = %q, want %q", body, "echo: ping")
	}
}

func TestDialAfterClose(t *testing.T) {
	ln := memtransport.New("closed")
	ln.Close()
	ln.Close()

	_, err := ln.DialContext(context.Background(), "unix", "closed")
	if !errors.Is(err, memtransport.ErrClosed) {
		t.Errorf("DialContext() error = %v, want ErrClosed", err)
	}
	if _, err := ln.Accept(); !errors.Is(err, memtransport.ErrClosed) {
		t.Errorf("Accept() error = %v, want ErrClosed", err)
	}
}

func TestDialContextCancelled(t *testing.T) {
	ln := memtransport.New("full")
	defer ln.Close()

	// Fill the accept backlog so the next dial blocks.
	for i := 0; i < 16; i++ {
		if _, err := ln.DialContext(context.Background(), "", ""); err != nil {
			t.Fatalf("dial %d: %v", i, err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := ln.DialContext(ctx, "", ""); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("DialContext() error = %v, want DeadlineExceeded", err)
	}
}

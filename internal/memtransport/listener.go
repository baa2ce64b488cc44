// Package memtransport provides an in-memory net.Listener that stands in for a
// named channel socket. Each dial creates a net.Pipe pair, so a channel server
// and a sub-process client can talk inside one test process without touching
// the filesystem.
//
// Usage:
//
//	ln := memtransport.New("echo-3f2a")
//	go srv.Serve(ln)
//	conn, err := ln.DialContext(ctx, "unix", ln.Addr().String())
package memtransport

import (
	"context"
	"errors"
	"net"
	"sync"
)

// ErrClosed is returned by Accept and DialContext after Close.
var ErrClosed = errors.New("memtransport: listener closed")

// Listener is an in-memory net.Listener backed by net.Pipe().
type Listener struct {
	name   string
	conns  chan net.Conn
	once   sync.Once
	closed chan struct{}
}

// New creates a listener for the named channel.
func New(name string) *Listener {
	return &Listener{
		name:   name,
		conns:  make(chan net.Conn, 16),
		closed: make(chan struct{}),
	}
}

// Accept returns the server side of the next dialed pipe.
func (l *Listener) Accept() (net.Conn, error) {
	select {
	case conn := <-l.conns:
		return conn, nil
	case <-l.closed:
		return nil, ErrClosed
	}
}

// Close stops the listener. Safe to call multiple times.
func (l *Listener) Close() error {
	l.once.Do(func() {
		close(l.closed)
	})
	return nil
}

// Addr returns the channel address.
func (l *Listener) Addr() net.Addr {
	return channelAddr(l.name)
}

// DialContext creates a connection pair and hands the server end to Accept.
// The network and address arguments are ignored; the signature matches
// net.Dialer.DialContext so the listener can replace a socket dialer.
func (l *Listener) DialContext(ctx context.Context, _, _ string) (net.Conn, error) {
	select {
	case <-l.closed:
		return nil, ErrClosed
	default:
	}

	serverConn, clientConn := net.Pipe()

	select {
	case l.conns <- serverConn:
		return clientConn, nil
	case <-l.closed:
		serverConn.Close()
		clientConn.Close()
		return nil, ErrClosed
	case <-ctx.Done():
		serverConn.Close()
		clientConn.Close()
		return nil, ctx.Err()
	}
}

type channelAddr string

func (channelAddr) Network() string  { return "mem" }
func (a channelAddr) String() string { return "mem://" + string(a) }

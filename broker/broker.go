// Package broker wires every singleton package into one running bus:
// name registry, policy store, match registrar, bus object, router,
// observer feed, and the transport listeners that feed it accepted
// connections (spec §6).
package broker

import (
	"context"
	"crypto/rand"
	"fmt"

	"github.com/Gao-OS/dbusbroker/busobject"
	"github.com/Gao-OS/dbusbroker/match"
	"github.com/Gao-OS/dbusbroker/observer"
	"github.com/Gao-OS/dbusbroker/peer"
	"github.com/Gao-OS/dbusbroker/policy"
	"github.com/Gao-OS/dbusbroker/registry"
	"github.com/Gao-OS/dbusbroker/router"
	"github.com/Gao-OS/dbusbroker/transport"
)

// Config holds the listeners a Broker should accept connections on.
// UnixSocketPath is required; TCPAddr is optional debug-only surface
// (spec §6 notes unix is the primary surface, TCP exists for
// development convenience and carries no fd passing).
type Config struct {
	UnixSocketPath string
	TCPAddr        string

	// SignalFallback enables the legacy compatibility behavior of also
	// delivering signals to peers with no registered match rules. Off
	// by default; see router.SetSignalFallback.
	SignalFallback bool
}

// Broker is one running bus instance: the singleton state plus the
// listeners feeding it connections.
type Broker struct {
	Registry *registry.Registry
	Policy   *policy.Store
	Matches  *match.Registrar
	Bus      *busobject.Bus
	Router   *router.Router
	Feed     *observer.Feed

	unixLn *transport.UnixListener
	tcpLn  *transport.TCPListener
}

// New builds a Broker from cfg, binding its listeners but not yet
// accepting connections; call Serve to start accepting.
func New(cfg Config) (*Broker, error) {
	busID, err := newBusID()
	if err != nil {
		return nil, fmt.Errorf("generating bus id: %w", err)
	}

	reg := registry.New()
	feed := observer.New()
	pol := policy.New(func(action, peer string, info policy.MessageInfo) {
		feed.Emit(observer.Event{
			Kind:        observer.PolicyDenied,
			Peer:        peer,
			Destination: info.Destination,
			Interface:   info.Interface,
			Member:      info.Member,
		})
	})
	matches := match.NewRegistrar()
	bus := busobject.New(reg, pol, matches, busID)
	r := router.New(reg, pol, matches, bus, feed)
	r.SetSignalFallback(cfg.SignalFallback)

	unixLn, err := transport.ListenUnix(cfg.UnixSocketPath)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", cfg.UnixSocketPath, err)
	}

	b := &Broker{
		Registry: reg,
		Policy:   pol,
		Matches:  matches,
		Bus:      bus,
		Router:   r,
		Feed:     feed,
		unixLn:   unixLn,
	}

	if cfg.TCPAddr != "" {
		tcpLn, err := transport.ListenTCP(cfg.TCPAddr)
		if err != nil {
			unixLn.Close()
			return nil, fmt.Errorf("listening on %s: %w", cfg.TCPAddr, err)
		}
		b.tcpLn = tcpLn
	}

	return b, nil
}

// Serve accepts connections until ctx is canceled, then closes every
// listener and returns.
func (b *Broker) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		b.Close()
	}()

	errc := make(chan error, 2)
	go func() { errc <- acceptLoop(b.unixLn, b.Router, b.Bus.BusID()) }()
	if b.tcpLn != nil {
		go func() { errc <- acceptLoop(b.tcpLn, b.Router, b.Bus.BusID()) }()
	} else {
		errc <- nil
	}

	err1 := <-errc
	err2 := <-errc
	if ctx.Err() != nil {
		return nil
	}
	if err1 != nil {
		return err1
	}
	return err2
}

// Close shuts down every listener. Connections already accepted are
// left to run until their peers disconnect naturally.
func (b *Broker) Close() {
	b.unixLn.Close()
	if b.tcpLn != nil {
		b.tcpLn.Close()
	}
}

type listener interface {
	Accept() (transport.Transport, error)
}

func acceptLoop(ln listener, r *router.Router, busID string) error {
	for {
		t, err := ln.Accept()
		if err != nil {
			return err
		}
		p := peer.New(t, r, busID)
		go p.Run()
	}
}

func newBusID() (string, error) {
	var bs [16]byte
	if _, err := rand.Read(bs[:]); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", bs), nil
}

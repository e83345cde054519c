// Package peer implements the per-connection actor: one goroutine
// pair per accepted transport that drives the handshake, then frames
// and decodes messages, attaches inbound file descriptors, and
// serializes outbound writes (spec §4.5).
//
// Grounded on the teacher's conn.go readLoop/dispatchMsg dispatch
// loop and transport/unix.go's SCM_RIGHTS handling, generalized from
// a client driving one outstanding call at a time to a server
// handling an arbitrary stream of inbound messages from an untrusted
// peer.
package peer

import (
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	dbus "github.com/Gao-OS/dbusbroker"
	"github.com/Gao-OS/dbusbroker/fragments"
	"github.com/Gao-OS/dbusbroker/handshake"
	"github.com/Gao-OS/dbusbroker/transport"
)

const (
	// outboundQueueCap bounds the number of messages buffered for a
	// single peer before it is considered a slow consumer and
	// terminated (spec §5 Backpressure).
	outboundQueueCap = 64
	// handshakeDeadline bounds how long a connection may spend
	// authenticating before it is dropped (spec §5 Timeouts).
	handshakeDeadline = 5 * time.Second
)

// Router is the subset of router behavior a Peer depends on. Kept as
// an interface so this package has no import cycle with router.
type Router interface {
	// PeerUp is called once, after a successful handshake, before the
	// peer starts decoding framed messages.
	PeerUp(p *Peer, creds handshake.Credentials)
	// PeerDown is called exactly once, when the peer's connection
	// ends for any reason.
	PeerDown(p *Peer)
	// Route hands one fully decoded inbound message, with Sender
	// already stamped, to the router.
	Route(msg *dbus.Message, from *Peer)
}

// Peer is one accepted connection, from raw bytes through handshake
// to framed DBus messages.
type Peer struct {
	t        transport.Transport
	router   Router
	serverID string

	mu        sync.Mutex
	unique    string
	creds     handshake.Credentials
	fdPassing bool
	closed    bool
	closeOnce sync.Once

	inbuf []byte

	outbound chan *dbus.Message
	done     chan struct{}
}

// New wraps an accepted transport in a Peer. Call Run to drive it.
func New(t transport.Transport, router Router, serverID string) *Peer {
	return &Peer{
		t:        t,
		router:   router,
		serverID: serverID,
		outbound: make(chan *dbus.Message, outboundQueueCap),
		done:     make(chan struct{}),
	}
}

// Unique returns the peer's assigned unique connection name, or "" if
// Hello has not completed yet.
func (p *Peer) Unique() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.unique
}

// SetUnique stamps the peer's unique connection name once the bus
// object has assigned and registered one in response to Hello.
func (p *Peer) SetUnique(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.unique = name
}

// Credentials returns the credentials captured during handshake.
func (p *Peer) Credentials() handshake.Credentials {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.creds
}

// Enqueue appends msg to the peer's outbound queue. It reports false,
// and terminates the peer, if the queue is full (spec §5
// Backpressure: drop the slow consumer rather than stall the
// router).
func (p *Peer) Enqueue(msg *dbus.Message) bool {
	select {
	case p.outbound <- msg:
		return true
	default:
		p.Close(errors.New("peer: outbound queue overflow"))
		return false
	}
}

// Close terminates the connection, if not already closed, and reports
// err as the reason in the log.
func (p *Peer) Close(err error) {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()
		if err != nil {
			log.Printf("peer %s: closing: %v", p.debugName(), err)
		}
		p.t.Close()
		close(p.done)
		p.router.PeerDown(p)
	})
}

func (p *Peer) debugName() string {
	if u := p.Unique(); u != "" {
		return u
	}
	return "(unauthenticated)"
}

// Run drives the peer to completion: handshake, then framing, until
// the connection ends. It blocks until the peer is closed.
func (p *Peer) Run() {
	go p.writeLoop()

	timer := time.AfterFunc(handshakeDeadline, func() {
		p.Close(errors.New("peer: handshake deadline exceeded"))
	})
	creds, err := p.handshake()
	timer.Stop()
	if err != nil {
		p.Close(fmt.Errorf("handshake: %w", err))
		return
	}
	p.mu.Lock()
	p.creds = creds
	p.mu.Unlock()
	p.router.PeerUp(p, creds)

	p.readLoop()
}

func (p *Peer) handshake() (handshake.Credentials, error) {
	m := handshake.New(p.serverID)

	first := make([]byte, 1)
	if _, err := readFull(p.t, first); err != nil {
		return handshake.Credentials{}, err
	}
	if err := m.ConsumeLeadingNull(first[0]); err != nil {
		return handshake.Credentials{}, err
	}

	for {
		line, err := p.t.ReadLine()
		if err != nil {
			return handshake.Credentials{}, err
		}
		reply, done, err := m.Line(line)
		if err != nil {
			return handshake.Credentials{}, err
		}
		if reply != "" {
			if _, err := p.t.Write([]byte(reply + "\r\n")); err != nil {
				return handshake.Credentials{}, err
			}
		}
		if done {
			p.mu.Lock()
			p.fdPassing = m.FDPassing()
			p.mu.Unlock()
			return m.Credentials(), nil
		}
	}
}

// readFull is a tiny helper for the one-byte leading-null read; the
// handshake has no other fixed-size reads. The handshakeDeadline
// timer started in Run is what actually bounds how long this (and
// the line reads that follow it) may block.
func readFull(t transport.Transport, buf []byte) (int, error) {
	n := 0
	for n < len(buf) {
		k, err := t.Read(buf[n:])
		n += k
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

func (p *Peer) readLoop() {
	readBuf := make([]byte, 64*1024)
	for {
		n, err := p.t.Read(readBuf)
		if n > 0 {
			p.inbuf = append(p.inbuf, readBuf[:n]...)
			p.drainMessages()
		}
		if err != nil {
			p.Close(fmt.Errorf("read: %w", err))
			return
		}
	}
}

func (p *Peer) drainMessages() {
	for {
		msg, consumed, err := dbus.Decode(p.inbuf)
		if errors.Is(err, dbus.ErrInsufficientData) {
			return
		}
		if err != nil {
			p.Close(fmt.Errorf("decode: %w", err))
			return
		}
		p.inbuf = p.inbuf[consumed:]

		p.mu.Lock()
		fdPassing := p.fdPassing
		unique := p.unique
		p.mu.Unlock()

		if fdPassing && msg.NumFDs > 0 {
			files, err := p.t.GetFiles(int(msg.NumFDs))
			if err != nil {
				p.Close(fmt.Errorf("missing declared unix_fds: %w", err))
				return
			}
			msg.FDs = files
		}
		msg.Sender = unique

		p.router.Route(msg, p)
	}
}

func (p *Peer) writeLoop() {
	for {
		select {
		case msg, ok := <-p.outbound:
			if !ok {
				return
			}
			p.writeOne(msg)
		case <-p.done:
			p.drainOutboundFDs()
			return
		}
	}
}

func (p *Peer) writeOne(msg *dbus.Message) {
	p.mu.Lock()
	fdPassing := p.fdPassing
	p.mu.Unlock()

	fds := msg.FDs
	if !fdPassing {
		fds = nil
	}
	msg.NumFDs = uint32(len(msg.FDs))

	bs, err := dbus.Encode(msg, fragments.NativeEndian)
	if err != nil {
		closeAll(msg.FDs)
		p.Close(fmt.Errorf("encode: %w", err))
		return
	}

	// Ownership of fds transfers to the kernel on a successful
	// WriteWithFiles; only our copy needs closing, and only once the
	// send has actually happened, win or lose.
	_, err = p.t.WriteWithFiles(bs, fds)
	closeAll(msg.FDs)
	if err != nil {
		p.Close(fmt.Errorf("write: %w", err))
	}
}

// drainOutboundFDs closes file descriptors on any messages still
// queued when the peer is torn down, so they are never leaked.
func (p *Peer) drainOutboundFDs() {
	for {
		select {
		case msg := <-p.outbound:
			closeAll(msg.FDs)
		default:
			return
		}
	}
}

func closeAll(fds []*os.File) {
	for _, f := range fds {
		f.Close()
	}
}

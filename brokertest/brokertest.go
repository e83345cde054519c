// Package brokertest runs an isolated broker instance for tests,
// dialing in with a bare-bones client that speaks just enough of the
// handshake and wire protocol to drive it.
package brokertest

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"testing"
	"time"

	dbus "github.com/Gao-OS/dbusbroker"
	"github.com/Gao-OS/dbusbroker/broker"
	"github.com/Gao-OS/dbusbroker/fragments"
)

const busName = "org.freedesktop.DBus"

// Bus is a broker instance dedicated to the calling test.
type Bus struct {
	broker *broker.Broker
	sock   string
	stop   context.CancelFunc
	served chan error
}

// New starts a broker listening on a temporary Unix socket and stops
// it when the calling test ends.
func New(t *testing.T) *Bus {
	t.Helper()
	sock := filepath.Join(t.TempDir(), "bus.sock")

	b, err := broker.New(broker.Config{UnixSocketPath: sock})
	if err != nil {
		t.Fatalf("starting broker: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	ret := &Bus{
		broker: b,
		sock:   sock,
		stop:   cancel,
		served: make(chan error, 1),
	}
	go func() { ret.served <- b.Serve(ctx) }()
	t.Cleanup(ret.close)
	return ret
}

func (b *Bus) close() {
	b.stop()
	<-b.served
}

// Socket returns the path to the broker's Unix socket.
func (b *Bus) Socket() string {
	return b.sock
}

// Broker returns the running broker, for tests that want to inspect
// its registry, policy store, or observer feed directly.
func (b *Bus) Broker() *broker.Broker {
	return b.broker
}

// MustDial connects to the bus and performs Hello, returning a Conn
// ready to send and receive messages. It calls t.Fatal on any error.
func (b *Bus) MustDial(t *testing.T) *Conn {
	t.Helper()
	c := b.MustConn(t)
	c.MustHello(t)
	return c
}

// MustConn connects to the bus and completes the line handshake,
// without calling Hello. It calls t.Fatal on any error.
func (b *Bus) MustConn(t *testing.T) *Conn {
	t.Helper()
	nc, err := net.DialTimeout("unix", b.sock, 5*time.Second)
	if err != nil {
		t.Fatalf("dialing test bus: %v", err)
	}
	c := &Conn{conn: nc, r: bufio.NewReader(nc)}
	if err := c.handshake(); err != nil {
		t.Fatalf("handshake with test bus: %v", err)
	}
	return c
}

// Conn is a minimal client connection to a [Bus]: enough to send and
// receive raw messages, without the struct-marshaling convenience the
// full client library would offer.
type Conn struct {
	conn   net.Conn
	r      *bufio.Reader
	serial uint32
	unique string
}

func (c *Conn) handshake() error {
	if _, err := c.conn.Write([]byte("\x00AUTH ANONYMOUS\r\n")); err != nil {
		return fmt.Errorf("writing AUTH: %w", err)
	}
	if _, err := c.r.ReadString('\n'); err != nil {
		return fmt.Errorf("reading AUTH reply: %w", err)
	}
	if _, err := c.conn.Write([]byte("BEGIN\r\n")); err != nil {
		return fmt.Errorf("writing BEGIN: %w", err)
	}
	return nil
}

// Close closes the underlying connection.
func (c *Conn) Close() error {
	return c.conn.Close()
}

// NextSerial returns a fresh serial number for a message this
// connection is about to send.
func (c *Conn) NextSerial() uint32 {
	c.serial++
	return c.serial
}

// Send encodes and writes msg.
func (c *Conn) Send(t *testing.T, msg *dbus.Message) {
	t.Helper()
	bs, err := dbus.Encode(msg, fragments.NativeEndian)
	if err != nil {
		t.Fatalf("encoding message: %v", err)
	}
	if _, err := c.conn.Write(bs); err != nil {
		t.Fatalf("writing message: %v", err)
	}
}

// Recv reads and decodes the next message, failing the test if none
// arrives within 5 seconds.
func (c *Conn) Recv(t *testing.T) *dbus.Message {
	t.Helper()
	type result struct {
		msg *dbus.Message
		err error
	}
	done := make(chan result, 1)
	go func() {
		var buf []byte
		for {
			b := make([]byte, 4096)
			n, err := c.conn.Read(b)
			if err != nil {
				done <- result{nil, err}
				return
			}
			buf = append(buf, b[:n]...)
			msg, _, err := dbus.Decode(buf)
			if errors.Is(err, dbus.ErrInsufficientData) {
				continue
			}
			done <- result{msg, err}
			return
		}
	}()
	select {
	case r := <-done:
		if r.err != nil {
			t.Fatalf("receiving message: %v", r.err)
		}
		return r.msg
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

// MustHello calls the bus's Hello method and records the assigned
// unique name, failing the test on any error.
func (c *Conn) MustHello(t *testing.T) string {
	t.Helper()
	serial := c.NextSerial()
	c.Send(t, &dbus.Message{
		Kind: dbus.MethodCall, Serial: serial,
		Path: "/org/freedesktop/DBus", Interface: busName, Member: "Hello", Destination: busName,
	})
	reply := c.Recv(t)
	if reply.Kind != dbus.MethodReturn || reply.ReplySerial != serial {
		t.Fatalf("Hello reply = %+v, want method_return to serial %d", reply, serial)
	}
	name, ok := reply.Body[0].(dbus.String)
	if !ok {
		t.Fatalf("Hello reply body = %+v, want a single string", reply.Body)
	}
	c.unique = string(name)
	return c.unique
}

// Unique returns the unique name MustHello assigned, or "" if Hello
// has not been called yet.
func (c *Conn) Unique() string {
	return c.unique
}

// Call sends a method call addressed to dest and returns its reply,
// which may be a method_return or an error message.
func (c *Conn) Call(t *testing.T, dest, iface, member string, body ...dbus.Value) *dbus.Message {
	t.Helper()
	serial := c.NextSerial()
	c.Send(t, &dbus.Message{
		Kind: dbus.MethodCall, Serial: serial,
		Path: "/", Interface: iface, Member: member, Destination: dest,
		Body: body,
	})
	for {
		msg := c.Recv(t)
		if (msg.Kind == dbus.MethodReturn || msg.Kind == dbus.MessageError) && msg.ReplySerial == serial {
			return msg
		}
	}
}

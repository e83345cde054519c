// Package transport provides the listening endpoints the broker
// accepts connections on: a Unix domain socket for normal clients,
// plus an optional TCP listener for remote debugging.
package transport

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"os"

	"github.com/creachadair/mds/queue"
	"golang.org/x/sys/unix"
)

// Transport is a single accepted DBus connection.
type Transport interface {
	io.ReadWriteCloser

	// ReadLine reads up to and including the next '\n', for the
	// line-based handshake phase (spec §4.4).
	ReadLine() (string, error)

	// GetFiles returns n received files that were attached to
	// previously read bytes as ancillary data.
	GetFiles(n int) ([]*os.File, error)
	// WriteWithFiles is like Transport.Write, but additionally sends
	// the given files as ancillary data.
	WriteWithFiles(bs []byte, fds []*os.File) (int, error)
}

// UnixListener accepts DBus connections on a Unix domain socket.
type UnixListener struct {
	ln *net.UnixListener
}

// ListenUnix creates a listening socket at path, unlinking any stale
// entry left behind by a previous instance first (spec §6).
func ListenUnix(path string) (*UnixListener, error) {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("removing stale socket %s: %w", path, err)
	}
	addr := &net.UnixAddr{Net: "unix", Name: path}
	ln, err := net.ListenUnix("unix", addr)
	if err != nil {
		return nil, err
	}
	return &UnixListener{ln: ln}, nil
}

// Accept waits for and returns the next connection.
func (l *UnixListener) Accept() (Transport, error) {
	conn, err := l.ln.AcceptUnix()
	if err != nil {
		return nil, err
	}
	return newUnixTransport(conn), nil
}

// Close stops accepting new connections.
func (l *UnixListener) Close() error {
	return l.ln.Close()
}

// Addr returns the listener's address.
func (l *UnixListener) Addr() net.Addr {
	return l.ln.Addr()
}

func newUnixTransport(conn *net.UnixConn) *unixTransport {
	ret := &unixTransport{
		conn: conn,
		fds:  queue.New[*os.File](),
	}
	ret.buf = bufio.NewReader(funcReader(ret.readToBuf))
	return ret
}

// unixTransport is a Transport that runs over a Unix domain socket.
type unixTransport struct {
	conn *net.UnixConn
	oob  [512]byte
	buf  *bufio.Reader
	fds  *queue.Queue[*os.File]
}

func (u *unixTransport) Read(bs []byte) (int, error) {
	return u.buf.Read(bs)
}

func (u *unixTransport) ReadLine() (string, error) {
	return u.buf.ReadString('\n')
}

func (u *unixTransport) Write(bs []byte) (int, error) {
	return u.conn.Write(bs)
}

func (u *unixTransport) Close() error {
	u.fds.Each(func(f *os.File) bool {
		f.Close()
		return true
	})
	u.fds.Clear()
	return u.conn.Close()
}

func (u *unixTransport) WriteWithFiles(bs []byte, fs []*os.File) (int, error) {
	if len(fs) == 0 {
		return u.Write(bs)
	}

	fds := make([]int, 0, len(fs))
	for _, f := range fs {
		fds = append(fds, int(f.Fd()))
	}
	scm := unix.UnixRights(fds...)
	n, oobn, err := u.conn.WriteMsgUnix(bs, scm, nil)
	if err != nil {
		u.Close()
		return n, err
	}
	if oobn != len(scm) {
		u.Close()
		return n, io.ErrShortWrite
	}
	return n, nil
}

func (u *unixTransport) GetFiles(n int) ([]*os.File, error) {
	ret := make([]*os.File, 0, n)
	for range n {
		f, ok := u.fds.Pop()
		if !ok {
			for _, f := range ret {
				f.Close()
			}
			return nil, errors.New("requested file not available")
		}
		ret = append(ret, f)
	}
	return ret, nil
}

func (u *unixTransport) readToBuf(bs []byte) (int, error) {
	n, oobn, flags, _, err := u.conn.ReadMsgUnix(bs, u.oob[:])
	if flags&unix.MSG_CTRUNC != 0 {
		u.Close()
		return 0, errors.New("control message truncated")
	}
	if oobn > 0 {
		if oobErr := u.parseFDs(u.oob[:oobn]); oobErr != nil {
			u.Close()
			return 0, oobErr
		}
	}
	if err != nil {
		u.Close()
		return 0, err
	}

	return n, nil
}

func (u *unixTransport) parseFDs(oob []byte) error {
	scms, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return err
	}
	// Accumulate errors and keep parsing on errors. We want to extract
	// all provided file descriptors from the message, so that we can
	// correctly close all of them on error. If we bailed on first
	// error, we'd leave dangling fds in the process.
	var errs []error
	for _, scm := range scms {
		if scm.Header.Level != unix.SOL_SOCKET || scm.Header.Type != unix.SCM_RIGHTS {
			continue
		}
		fds, err := unix.ParseUnixRights(&scm)
		if err != nil {
			errs = append(errs, fmt.Errorf("parsing unix rights: %w", err))
			continue
		}
		for _, fd := range fds {
			f := os.NewFile(uintptr(fd), "")
			if f == nil {
				errs = append(errs, fmt.Errorf("invalid file descriptor %d received on dbus socket", fd))
			} else {
				u.fds.Add(f)
			}
		}
	}

	if len(errs) != 0 {
		return errors.Join(errs...)
	}
	return nil
}

type funcReader func([]byte) (int, error)

func (f funcReader) Read(bs []byte) (int, error) {
	return f(bs)
}

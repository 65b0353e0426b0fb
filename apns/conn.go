package apns

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/juju/errors"
	atomic_clock "github.com/temoto/atomic_clock"

	"github.com/pushgate/apns/helpers"
	"github.com/pushgate/apns/log2"
)

var ErrClosing = fmt.Errorf("closing")

// conn is the exclusively owned transport handle. The client holds at most
// one live conn; every exit from the connected state goes through die().
type conn struct {
	err     helpers.AtomicError
	last    atomic_clock.Clock
	net     net.Conn
	dec     Decoder
	log     *log2.Log
	timeout time.Duration
}

// dialStream opens the gateway transport: plain TCP under network="tcp"
// (tests and debug), TLS with peer verification under network="tls".
// The TLS handshake completes here, under the network deadline: readiness
// plus peer authentication is the condition for entering connected state.
func dialStream(ctx context.Context, network, addr string, tlsconf *tls.Config, timeout time.Duration, log *log2.Log) (*conn, error) {
	dialer := net.Dialer{Timeout: timeout}
	if deadline, _ := ctx.Deadline(); !deadline.IsZero() {
		if until := time.Until(deadline); until > 0 && until < dialer.Timeout {
			dialer.Timeout = until
		} else if until <= 0 {
			return nil, context.Canceled
		}
	}

	var netConn net.Conn
	var err error
	switch network {
	case "tcp":
		netConn, err = dialer.DialContext(ctx, "tcp", addr)

	case "tls":
		netConn, err = dialer.DialContext(ctx, "tcp", addr)
		if err == nil {
			tc := tls.Client(netConn, tlsconf)
			_ = tc.SetDeadline(time.Now().Add(timeout))
			if err = tc.Handshake(); err != nil {
				_ = netConn.Close()
				return nil, errors.Annotate(err, "tls handshake")
			}
			_ = tc.SetDeadline(time.Time{})
			netConn = tc
		}

	default:
		err = fmt.Errorf("unknown network=%s", network)
	}
	if err != nil {
		return nil, errors.Annotatef(err, "dial %s", addr)
	}
	return newConn(netConn, timeout, log), nil
}

func newConn(netConn net.Conn, timeout time.Duration, log *log2.Log) *conn {
	c := &conn{
		net:     netConn,
		log:     log,
		timeout: timeout,
	}
	if tcp, ok := netConn.(*net.TCPConn); ok {
		_ = tcp.SetKeepAlive(false)
		_ = tcp.SetLinger(0)
	}
	c.dec.Attach(bufio.NewReader(netConn))
	c.last.SetNow()
	return c
}

func (c *conn) Closed() bool {
	_, ok := c.err.Load()
	return ok
}

func (c *conn) Close() error { return c.die(ErrClosing) }

// send writes one encoded frame. A full socket buffer shows up as a blocked
// write bounded by the deadline; the single worker keeps drain order FIFO.
func (c *conn) send(b []byte) error {
	if err := c.net.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
		return c.die(errors.Annotate(err, "SetWriteDeadline"))
	}
	if err := helpers.WriteAll(c.net, b); err != nil {
		return c.die(errors.Annotate(err, "send"))
	}
	c.last.SetNow()
	return nil
}

// readError blocks until the gateway delivers an error frame, the stream
// ends, or the conn dies. No deadline: the gateway speaks only on failure.
func (c *conn) readError() (status byte, identifier uint32, err error) {
	if err = c.net.SetReadDeadline(time.Time{}); err != nil {
		return 0, 0, c.die(errors.Annotate(err, "SetReadDeadline"))
	}
	status, identifier, err = c.dec.ReadError()
	if err != nil {
		return 0, 0, c.die(err)
	}
	c.last.SetNow()
	return status, identifier, nil
}

func (c *conn) SinceLastActivity() time.Duration { return atomic_clock.Since(&c.last) }

func (c *conn) RemoteAddr() net.Addr { return c.net.RemoteAddr() }

func (c *conn) die(e error) error {
	if err, found := c.err.StoreOnce(e); found {
		return err
	}
	_ = c.net.Close()

	// reformat some well known errors for easier log reading
	estr := e.Error()
	if neterr, ok := e.(net.Error); ok && neterr.Timeout() {
		estr = "timeout"
	} else if strings.HasSuffix(estr, "i/o timeout") {
		estr = "timeout"
	} else if strings.HasSuffix(estr, "connection reset by peer") {
		estr = "closed by remote"
	} else if e == ErrClosing {
		estr = "closing"
	}
	c.log.Debugf("conn die remote=%s e=%s", addrString(c.net.RemoteAddr()), estr)
	return e
}

func addrString(a net.Addr) string {
	if a == nil {
		return ""
	}
	return a.String()
}

package apns

import (
	"context"
	"crypto/tls"
	"fmt"
	"sync"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/alive/v2"

	"github.com/pushgate/apns/helpers"
	"github.com/pushgate/apns/log2"
)

var errIdleTimeout = fmt.Errorf("idle timeout")

// Client delivers notifications to one gateway endpoint over one persistent
// encrypted stream. Contract:
// - Send blocks at most for queue handoff (disk write with a spool),
//   the network may be slow or absent, delivery happens in background
// - lazy connect on first queued notification, reconnect with backoff
// - enhanced protocol: at-least-once with bounded duplication on replay
// - simple protocol: fire-and-forget, no cache, no replay
// - Close stops background work and releases the transport
type Client struct {
	sync.Mutex // protects current, sent, seq, tlsconf
	alive      *alive.Alive
	backoff    *helpers.Backoff
	cfg        Config
	log        *log2.Log
	queue      outqueue
	sent       *sentlog
	current    *conn
	seq        uint32
	tlsconf    *tls.Config
	stat       Stat
}

func NewClient(cfg Config) (*Client, error) {
	if err := cfg.Normalize(); err != nil {
		return nil, errors.Annotate(err, "config")
	}
	c := &Client{
		alive: alive.NewAlive(),
		backoff: &helpers.Backoff{
			Min: cfg.retryDelay,
			Max: 10 * cfg.retryDelay,
			K:   2,
		},
		cfg:  cfg,
		log:  cfg.Log,
		sent: newSentlog(cfg.CacheLength),
	}
	if cfg.LogDebug {
		c.log.SetLevel(log2.LDebug)
	}
	if cfg.SpoolPath != "" {
		q, err := newSpoolqueue(cfg.SpoolPath)
		if err != nil {
			return nil, err
		}
		c.queue = q
	} else {
		c.queue = newMemqueue()
	}

	c.alive.Add(2)
	go c.worker()
	go c.idler()
	return c, nil
}

// Send validates and queues a notification for delivery.
// Encoding faults (missing token, oversized payload) are returned here,
// synchronously: they are permanent, nothing is queued or cached for them.
// The returned future completes when the notification reaches the wire
// (or, with a spool, the disk) and is cancelled when a connection attempt
// fails; the notification itself stays queued for the next attempt.
func (c *Client) Send(n *Notification) (*helpers.Future, error) {
	if c.alive.IsStopping() || c.alive.IsFinished() {
		return nil, ErrClosing
	}
	if err := ValidateNotification(n); err != nil {
		return nil, err
	}
	f := helpers.NewFuture()
	if err := c.queue.Push(entry{n: n, f: f}); err != nil {
		return nil, err
	}
	c.stat.addQueued()
	return f, nil
}

func (c *Client) Stat() *Stat { return &c.stat }

func (c *Client) Close() error {
	c.alive.Stop()
	err := c.queue.Close()
	c.Lock()
	cur := c.current
	c.current = nil
	c.Unlock()
	if cur != nil {
		_ = cur.Close()
	}
	c.alive.Wait()
	return err
}

// worker is the only goroutine that connects and writes: drain order is
// strictly queue order, one frame at a time.
func (c *Client) worker() {
	defer c.alive.Done()
	for {
		e, err := c.queue.Peek()
		if err != nil {
			if err == ErrClosing {
				return
			}
			// corrupt spool entry or disk trouble: already logged a level
			// down, keep draining what we can
			c.log.Errorf("queue err=%v", err)
			if c.sleep(c.cfg.retryDelay) != nil {
				return
			}
			continue
		}
		conn, err := c.mustConn()
		if err != nil {
			if err == ErrClosing {
				return
			}
			c.log.Errorf("connect err=%v", errors.ErrorStack(err))
			// pending submitters learn this attempt failed, queue is kept
			c.queue.CancelFutures(err)
			continue
		}
		c.transmit(conn, e)
	}
}

func (c *Client) transmit(conn *conn, e entry) {
	if c.cfg.proto == ProtocolEnhanced {
		helpers.WithLock(c, func() { c.assignID(e.n) })
	}
	b, err := FrameMarshal(c.cfg.proto, e.n)
	if err != nil {
		// Send validates, so this is a corrupt spool entry: not retryable.
		c.log.Errorf("drop unencodable notification n=%s err=%v", e.n, err)
		_ = c.queue.Delete(e)
		if e.f != nil {
			e.f.Cancel(err)
		}
		return
	}
	c.log.Debugf("send n=%s b=(%d)%x", e.n, len(b), b)
	if err = conn.send(b); err != nil {
		// conn died, entry stays at the head for the reconnect
		return
	}
	delivered := false
	helpers.WithLock(c, func() {
		// the conn may have died between the write and this lock: the
		// reader partitions the cache only after die, so a dead conn here
		// means the gateway discards writes after the faulting frame.
		// Keep the entry at the head, it goes out again on the reconnect.
		if conn.Closed() {
			return
		}
		if c.cfg.proto == ProtocolEnhanced {
			c.sent.Append(e.n)
		}
		delivered = true
	})
	if !delivered {
		return
	}
	_ = c.queue.Delete(e)
	if e.f != nil {
		e.f.Complete(nil)
	}
	c.stat.addSent()
}

// assignID hands out wire identifiers once per notification, in
// transmission order. Wraps to 0 by native uint32 overflow; collisions are
// impossible within one wrap cycle. Caller must hold the client mutex.
func (c *Client) assignID(n *Notification) {
	if !n.assigned {
		n.assign(c.seq)
		c.seq++
	}
}

// mustConn returns the live conn or establishes one: acquire credentials,
// dial, authenticate. Runs only on the worker goroutine; the connect is
// naturally single-flight for all concurrent submitters.
func (c *Client) mustConn() (*conn, error) {
	c.Lock()
	cur := c.current
	if cur != nil && cur.Closed() {
		c.current = nil
		cur = nil
	}
	c.Unlock()
	if cur != nil {
		return cur, nil
	}

	if delay := c.backoff.DelayBefore(); delay > 0 {
		c.log.Debugf("reconnect delay=%s", delay)
		if err := c.sleep(delay); err != nil {
			return nil, err
		}
	}

	tlsconf, err := c.mustTLS()
	if err != nil {
		c.backoff.Failure()
		return nil, errors.Annotate(err, "credentials")
	}
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.networkTimeout)
	defer cancel()
	conn, err := dialStream(ctx, c.cfg.Network, c.cfg.addr, tlsconf, c.cfg.networkTimeout, c.log)
	if err != nil {
		c.backoff.Failure()
		return nil, err
	}
	c.backoff.Reset()
	c.stat.addConnect()
	c.log.Debugf("connected remote=%s", addrString(conn.RemoteAddr()))

	c.Lock()
	c.current = conn
	c.Unlock()
	if c.alive.Add(1) {
		go c.reader(conn)
	}
	return conn, nil
}

func (c *Client) mustTLS() (*tls.Config, error) {
	if c.cfg.Network != "tls" {
		return nil, nil
	}
	c.Lock()
	tlsconf := c.tlsconf
	c.Unlock()
	if tlsconf != nil {
		return tlsconf, nil
	}
	tlsconf, err := loadTLS(&c.cfg, c.cfg.Gateway)
	if err != nil {
		return nil, err
	}
	c.Lock()
	c.tlsconf = tlsconf
	c.Unlock()
	return tlsconf, nil
}

// reader consumes the inbound side of one conn. The gateway speaks only to
// report a failure; after one decoded error frame the stream is dead weight
// and is closed so the queue drains over a fresh connection.
func (c *Client) reader(conn *conn) {
	defer c.alive.Done()
	status, identifier, err := conn.readError()
	if err != nil {
		// EOF, reset, timeout or garbage: connection state only,
		// no notification-specific signal
		return
	}
	c.log.Debugf("gateway error status=%d(%s) identifier=%d", status, StatusName(status), identifier)
	_ = conn.die(fmt.Errorf("gateway error status=%d", status))
	c.handleReject(status, identifier)
}

// handleReject partitions the transmission cache around the faulting
// identifier and requeues the survivors, in order, behind whatever the
// queue already holds.
func (c *Client) handleReject(status byte, identifier uint32) {
	c.Lock()
	match, resend := c.sent.TakeError(identifier)
	c.Unlock()

	if match != nil {
		c.stat.addRejected()
		if c.cfg.OnReject != nil {
			c.cfg.OnReject(status, match)
		}
	} else {
		// cache was too small to retain the faulting notification:
		// resend the whole retained window, duplicates accepted
		c.stat.addRejected()
		if c.cfg.OnReject != nil {
			c.cfg.OnReject(StatusUnknown, nil)
		}
	}
	for _, n := range resend {
		// one failed push must not discard the rest of the window
		if err := c.queue.Push(entry{n: n}); err != nil {
			c.log.Errorf("requeue n=%s err=%v", n, err)
			continue
		}
		c.stat.addRequeued()
	}
}

// idler closes a connection that stayed quiet for the configured idle
// timeout. With an empty queue the client then simply stays disconnected.
func (c *Client) idler() {
	defer c.alive.Done()
	idle := c.cfg.idleTimeout
	if idle <= 0 {
		return
	}
	for c.alive.IsRunning() {
		c.Lock()
		conn := c.current
		if conn != nil && conn.Closed() {
			c.current = nil
			conn = nil
		}
		c.Unlock()
		if conn == nil {
			if c.sleep(idle/2+time.Millisecond) != nil {
				return
			}
			continue
		}
		since := conn.SinceLastActivity()
		if since >= idle {
			c.log.Debugf("idle timeout since=%s", since)
			_ = conn.die(errIdleTimeout)
		} else if c.sleep(idle-since) != nil {
			return
		}
	}
}

func (c *Client) sleep(d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-time.After(d):
		return nil
	case <-c.alive.StopChan():
		return ErrClosing
	}
}

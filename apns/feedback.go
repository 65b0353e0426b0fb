package apns

import (
	"context"
	"crypto/tls"
	"io"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/alive/v2"

	"github.com/pushgate/apns/helpers"
	"github.com/pushgate/apns/log2"
)

// Feedback polls the feedback endpoint of the gateway: a read-only stream
// of (time, token) tuples naming device tokens that stopped being
// deliverable. The service sends everything it has and closes.
type Feedback struct {
	alive   *alive.Alive
	backoff *helpers.Backoff
	cfg     Config
	log     *log2.Log
	tlsconf *tls.Config
}

func NewFeedback(cfg Config) (*Feedback, error) {
	if err := cfg.Normalize(); err != nil {
		return nil, errors.Annotate(err, "config")
	}
	if cfg.OnFeedback == nil {
		return nil, errors.NotValidf("code error feedback OnFeedback=nil")
	}
	f := &Feedback{
		alive: alive.NewAlive(),
		backoff: &helpers.Backoff{
			Min: cfg.retryDelay,
			Max: 10 * cfg.retryDelay,
			K:   2,
		},
		cfg: cfg,
		log: cfg.Log,
	}
	if cfg.LogDebug {
		f.log.SetLevel(log2.LDebug)
	}
	return f, nil
}

// Poll connects once, reports every tuple through OnFeedback and returns
// after the service closes the stream.
func (f *Feedback) Poll(ctx context.Context) error {
	if f.tlsconf == nil && f.cfg.Network == "tls" {
		tlsconf, err := loadTLS(&f.cfg, f.cfg.Feedback.Gateway)
		if err != nil {
			return errors.Annotate(err, "credentials")
		}
		f.tlsconf = tlsconf
	}
	conn, err := dialStream(ctx, f.cfg.Network, f.cfg.Feedback.addr, f.tlsconf, f.cfg.networkTimeout, f.log)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	count := 0
	for {
		if err = conn.net.SetReadDeadline(time.Now().Add(f.cfg.networkTimeout)); err != nil {
			return conn.die(errors.Annotate(err, "SetReadDeadline"))
		}
		timestamp, token, err := conn.dec.ReadFeedback()
		if err == io.EOF {
			f.log.Debugf("feedback done count=%d", count)
			return nil
		}
		if err != nil {
			_ = conn.die(err)
			return errors.Annotate(err, "feedback")
		}
		count++
		f.cfg.OnFeedback(time.Unix(int64(timestamp), 0), token)
	}
}

// Run polls on the configured interval until Close. Zero interval means
// a single poll.
func (f *Feedback) Run() {
	if !f.alive.Add(1) {
		return
	}
	defer f.alive.Done()
	for f.alive.IsRunning() {
		err := f.Poll(context.Background())
		f.backoff.Update(err == nil)
		if err != nil {
			f.log.Errorf("feedback poll err=%v", err)
		}
		if f.cfg.Feedback.interval <= 0 {
			return
		}
		delay := f.cfg.Feedback.interval
		if d := f.backoff.DelayBefore(); d > delay {
			delay = d
		}
		if f.sleep(delay) != nil {
			return
		}
	}
}

func (f *Feedback) Close() {
	f.alive.Stop()
	f.alive.Wait()
}

func (f *Feedback) sleep(d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-time.After(d):
		return nil
	case <-f.alive.StopChan():
		return ErrClosing
	}
}

package apns

import (
	"crypto/tls"
	"fmt"
	"io/ioutil"
	"time"

	"github.com/hashicorp/hcl"
	"github.com/juju/errors"

	"github.com/pushgate/apns/helpers"
	"github.com/pushgate/apns/log2"
)

const (
	DefaultGateway         = "gateway.push.apple.com"
	DefaultPort            = 2195
	DefaultFeedbackGateway = "feedback.push.apple.com"
	DefaultFeedbackPort    = 2196
	DefaultCacheLength     = 100
	DefaultNetworkTimeout  = 30 * time.Second
	DefaultRetryDelay      = 1 * time.Second
)

// RejectFunc receives gateway-reported transmission failures.
// n is nil when the faulting notification was no longer retained
// (status is then StatusUnknown).
type RejectFunc func(status byte, n *Notification)

// FeedbackFunc receives one feedback service tuple: the token became
// invalid at the reported time.
type FeedbackFunc func(timestamp time.Time, token []byte)

type FeedbackConfig struct {
	Gateway     string `hcl:"gateway"`
	Port        int    `hcl:"port"`
	IntervalSec int    `hcl:"interval_sec"`

	interval time.Duration
	addr     string
}

// Config is an immutable snapshot: Normalize once, never mutate after.
type Config struct {
	CertFile          string `hcl:"cert_file"`
	KeyFile           string `hcl:"key_file"`
	Passphrase        string `hcl:"passphrase"` // secret
	CAFile            string `hcl:"ca_file"`
	Gateway           string `hcl:"gateway"`
	Port              int    `hcl:"port"`
	Network           string `hcl:"network"`  // tls (default) | tcp (testing)
	Protocol          string `hcl:"protocol"` // enhanced (default) | simple
	CacheLength       int    `hcl:"cache_length"`
	IdleTimeoutSec    int    `hcl:"idle_timeout_sec"` // <=0 disabled
	NetworkTimeoutSec int    `hcl:"network_timeout_sec"`
	RetryDelaySec     int    `hcl:"retry_delay_sec"`
	SpoolPath         string `hcl:"spool_path"`
	LogDebug          bool   `hcl:"log_debug"`

	Feedback FeedbackConfig `hcl:"feedback"`

	CertPEM    []byte       `hcl:"-"` // raw material instead of CertFile
	KeyPEM     []byte       `hcl:"-"`
	OnReject   RejectFunc   `hcl:"-"`
	OnFeedback FeedbackFunc `hcl:"-"`
	Log        *log2.Log    `hcl:"-"`
	TLS        *tls.Config  `hcl:"-"` // overrides credential loading

	// duration overrides for the *Sec fields, mostly for tests
	IdleTimeout    time.Duration `hcl:"-"`
	NetworkTimeout time.Duration `hcl:"-"`
	RetryDelay     time.Duration `hcl:"-"`

	proto          Protocol
	addr           string
	idleTimeout    time.Duration
	networkTimeout time.Duration
	retryDelay     time.Duration
}

func (c *Config) Normalize() error {
	if c.Gateway == "" {
		c.Gateway = DefaultGateway
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.Network == "" {
		c.Network = "tls"
	}
	switch c.Network {
	case "tls", "tcp":
	default:
		return errors.NotValidf("network=%s", c.Network)
	}
	switch c.Protocol {
	case "", "enhanced":
		c.proto = ProtocolEnhanced
	case "simple":
		c.proto = ProtocolSimple
	default:
		return errors.NotValidf("protocol=%s", c.Protocol)
	}
	if c.CacheLength == 0 {
		c.CacheLength = DefaultCacheLength
	}
	c.addr = fmt.Sprintf("%s:%d", c.Gateway, c.Port)
	c.idleTimeout = time.Duration(c.IdleTimeoutSec) * time.Second
	c.networkTimeout = helpers.IntSecondDefault(c.NetworkTimeoutSec, DefaultNetworkTimeout)
	c.retryDelay = helpers.IntSecondDefault(c.RetryDelaySec, DefaultRetryDelay)
	if c.IdleTimeout != 0 {
		c.idleTimeout = c.IdleTimeout
	}
	if c.NetworkTimeout != 0 {
		c.networkTimeout = c.NetworkTimeout
	}
	if c.RetryDelay != 0 {
		c.retryDelay = c.RetryDelay
	}

	if c.Feedback.Gateway == "" {
		c.Feedback.Gateway = DefaultFeedbackGateway
	}
	if c.Feedback.Port == 0 {
		c.Feedback.Port = DefaultFeedbackPort
	}
	c.Feedback.addr = fmt.Sprintf("%s:%d", c.Feedback.Gateway, c.Feedback.Port)
	c.Feedback.interval = time.Duration(c.Feedback.IntervalSec) * time.Second
	return nil
}

// ReadConfigFile parses an HCL config file into Config.
// Callback and credential-bytes fields are code-only, set them after.
func ReadConfigFile(path string) (*Config, error) {
	b, err := ioutil.ReadFile(path)
	if err != nil {
		return nil, errors.Annotatef(err, "config path=%s", path)
	}
	c := &Config{}
	if err = hcl.Unmarshal(b, c); err != nil {
		return nil, errors.Annotatef(err, "config parse path=%s", path)
	}
	return c, nil
}

package apns

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"io/ioutil"

	"github.com/juju/errors"
)

// loadTLS builds the transport credentials from the config: client
// certificate and key (files or raw PEM, key optionally passphrase
// encrypted) and trust roots. serverName pins peer verification to the
// gateway or feedback hostname.
func loadTLS(cfg *Config, serverName string) (*tls.Config, error) {
	if cfg.TLS != nil {
		return cfg.TLS, nil
	}

	certPEM, err := pemBytes(cfg.CertPEM, cfg.CertFile)
	if err != nil {
		return nil, errors.Annotate(err, "certificate")
	}
	keyPEM, err := pemBytes(cfg.KeyPEM, cfg.KeyFile)
	if err != nil {
		return nil, errors.Annotate(err, "key")
	}
	if cfg.Passphrase != "" {
		if keyPEM, err = decryptKeyPEM(keyPEM, cfg.Passphrase); err != nil {
			return nil, errors.Annotate(err, "key decrypt")
		}
	}
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, errors.Annotate(err, "keypair")
	}

	tlsconf := &tls.Config{
		Certificates: []tls.Certificate{cert},
		ServerName:   serverName,
	}
	if cfg.CAFile != "" {
		caPEM, err := ioutil.ReadFile(cfg.CAFile)
		if err != nil {
			return nil, errors.Annotate(err, "ca")
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caPEM) {
			return nil, errors.Errorf("ca file=%s no certificates found", cfg.CAFile)
		}
		tlsconf.RootCAs = pool
	}
	return tlsconf, nil
}

func pemBytes(raw []byte, path string) ([]byte, error) {
	if len(raw) > 0 {
		return raw, nil
	}
	if path == "" {
		return nil, errors.Errorf("neither raw PEM nor file path is set")
	}
	return ioutil.ReadFile(path)
}

// decryptKeyPEM handles legacy passphrase-encrypted private keys.
func decryptKeyPEM(keyPEM []byte, passphrase string) ([]byte, error) {
	block, _ := pem.Decode(keyPEM)
	if block == nil {
		return nil, errors.Errorf("no PEM block")
	}
	if !x509.IsEncryptedPEMBlock(block) {
		return keyPEM, nil
	}
	der, err := x509.DecryptPEMBlock(block, []byte(passphrase))
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: block.Type, Bytes: der}), nil
}

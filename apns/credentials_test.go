package apns

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"io/ioutil"
	"math/big"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func genKeypairPEM(t testing.TB) (certPEM, keyPEM []byte) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := x509.Certificate{
		SerialNumber: big.NewInt(2),
		Subject:      pkix.Name{CommonName: "push client"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, &tmpl, &tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)
	certPEM = pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM = pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
	return certPEM, keyPEM
}

func TestLoadTLSRawPEM(t *testing.T) {
	t.Parallel()

	certPEM, keyPEM := genKeypairPEM(t)
	cfg := &Config{CertPEM: certPEM, KeyPEM: keyPEM}
	tlsconf, err := loadTLS(cfg, "gw.example.com")
	require.NoError(t, err)
	require.Len(t, tlsconf.Certificates, 1)
	assert.Equal(t, "gw.example.com", tlsconf.ServerName)
	assert.Nil(t, tlsconf.RootCAs, "system roots by default")
}

func TestLoadTLSFiles(t *testing.T) {
	t.Parallel()

	certPEM, keyPEM := genKeypairPEM(t)
	dir, err := ioutil.TempDir("", "apns-test-creds")
	require.NoError(t, err)
	defer os.RemoveAll(dir)
	certFile := dir + "/push.crt"
	keyFile := dir + "/push.key"
	require.NoError(t, ioutil.WriteFile(certFile, certPEM, 0600))
	require.NoError(t, ioutil.WriteFile(keyFile, keyPEM, 0600))

	cfg := &Config{CertFile: certFile, KeyFile: keyFile, CAFile: certFile}
	tlsconf, err := loadTLS(cfg, "gw")
	require.NoError(t, err)
	assert.Len(t, tlsconf.Certificates, 1)
	assert.NotNil(t, tlsconf.RootCAs, "ca_file installs trust roots")
}

func TestLoadTLSEncryptedKey(t *testing.T) {
	t.Parallel()

	certPEM, keyPEM := genKeypairPEM(t)
	block, _ := pem.Decode(keyPEM)
	require.NotNil(t, block)
	enc, err := x509.EncryptPEMBlock(rand.Reader, block.Type, block.Bytes, []byte("sekret"), x509.PEMCipherAES128)
	require.NoError(t, err)
	encPEM := pem.EncodeToMemory(enc)

	cfg := &Config{CertPEM: certPEM, KeyPEM: encPEM, Passphrase: "sekret"}
	tlsconf, err := loadTLS(cfg, "gw")
	require.NoError(t, err)
	assert.Len(t, tlsconf.Certificates, 1)

	cfg = &Config{CertPEM: certPEM, KeyPEM: encPEM, Passphrase: "wrong"}
	_, err = loadTLS(cfg, "gw")
	require.Error(t, err, "wrong passphrase must fail the connection attempt")
}

func TestLoadTLSMissingMaterial(t *testing.T) {
	t.Parallel()

	_, err := loadTLS(&Config{}, "gw")
	require.Error(t, err)
}

package certs

import (
	"crypto/sha256"
	"crypto/x509"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate(t *testing.T) {
	t.Parallel()
	c, err := Generate(time.Hour, "reel.test", "10.0.0.7")
	require.NoError(t, err)

	assert.Equal(t, sha256.Sum256(c.TLSCert.Certificate[0]), c.Fingerprint)
	assert.Len(t, c.FingerprintHex(), 64)
	assert.WithinDuration(t, time.Now().Add(time.Hour), c.Leaf.NotAfter, 2*time.Minute)
	assert.Contains(t, c.Leaf.DNSNames, "localhost")
	assert.Contains(t, c.Leaf.DNSNames, "reel.test")

	var ips []string
	for _, ip := range c.Leaf.IPAddresses {
		ips = append(ips, ip.String())
	}
	assert.Contains(t, ips, "127.0.0.1")
	assert.Contains(t, ips, "10.0.0.7")
}

func TestGenerateDefaultValidity(t *testing.T) {
	t.Parallel()
	c, err := Generate(0)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(DefaultValidity), c.Leaf.NotAfter, 2*time.Minute)
}

func TestClientConfigVerifiesLeaf(t *testing.T) {
	t.Parallel()
	c, err := Generate(time.Hour)
	require.NoError(t, err)

	_, err = c.Leaf.Verify(x509.VerifyOptions{
		Roots:   c.ClientConfig().RootCAs,
		DNSName: "localhost",
	})
	require.NoError(t, err)

	_, err = c.Leaf.Verify(x509.VerifyOptions{
		Roots:   c.ClientConfig().RootCAs,
		DNSName: "example.com",
	})
	assert.Error(t, err)
}

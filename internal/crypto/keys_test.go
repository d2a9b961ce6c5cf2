package crypto

import (
	gocrypto "crypto"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"github.com/beevik/etree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewKeySetSelfSigned(t *testing.T) {
	ks, err := NewKeySet("idp.example.com")
	require.NoError(t, err)

	cert := ks.Certificate()
	assert.Equal(t, "idp.example.com", cert.Subject.CommonName)
	assert.Equal(t, x509.KeyUsageDigitalSignature, cert.KeyUsage)

	// Certificate and private key belong together.
	pub, ok := cert.PublicKey.(*rsa.PublicKey)
	require.True(t, ok)
	assert.True(t, pub.Equal(&ks.RSAPrivateKey().PublicKey))
	assert.False(t, ks.CreatedAt().IsZero())
}

func TestSignQueryVerifies(t *testing.T) {
	ks, err := NewKeySet("idp.example.com")
	require.NoError(t, err)

	octets := "SAMLRequest=abc&RelayState=rs&SigAlg=alg"
	sigAlg, signature, err := ks.SignQuery(octets)
	require.NoError(t, err)
	assert.Equal(t, SigAlgRSASHA256, sigAlg)

	digest := sha256.Sum256([]byte(octets))
	require.NoError(t, rsa.VerifyPKCS1v15(&ks.RSAPrivateKey().PublicKey, gocrypto.SHA256, digest[:], signature))

	// A different message must not verify with the same signature.
	tampered := sha256.Sum256([]byte(octets + "x"))
	assert.Error(t, rsa.VerifyPKCS1v15(&ks.RSAPrivateKey().PublicKey, gocrypto.SHA256, tampered[:], signature))
}

func TestSignEnvelopedAttachesSignature(t *testing.T) {
	ks, err := NewKeySet("idp.example.com")
	require.NoError(t, err)

	doc := etree.NewDocument()
	root := doc.CreateElement("Message")
	root.CreateAttr("ID", "_msg-1")
	root.CreateElement("Body").SetText("payload")

	signed, err := ks.SignEnveloped(root)
	require.NoError(t, err)
	require.NotNil(t, signed.FindElement("./Signature"))
}

func TestLoadKeySet(t *testing.T) {
	ks, err := NewKeySet("idp.example.com")
	require.NoError(t, err)

	dir := t.TempDir()
	keyPath := filepath.Join(dir, "key.pem")
	certPath := filepath.Join(dir, "cert.pem")

	keyPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(ks.RSAPrivateKey()),
	})
	certPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "CERTIFICATE",
		Bytes: ks.Certificate().Raw,
	})
	require.NoError(t, os.WriteFile(keyPath, keyPEM, 0o600))
	require.NoError(t, os.WriteFile(certPath, certPEM, 0o600))

	loaded, err := LoadKeySet(keyPath, certPath)
	require.NoError(t, err)
	assert.Equal(t, ks.Certificate().Raw, loaded.Certificate().Raw)
	assert.True(t, ks.RSAPrivateKey().Equal(loaded.RSAPrivateKey()))
}

func TestLoadKeySetRejectsGarbage(t *testing.T) {
	dir := t.TempDir()
	keyPath := filepath.Join(dir, "key.pem")
	certPath := filepath.Join(dir, "cert.pem")
	require.NoError(t, os.WriteFile(keyPath, []byte("not pem"), 0o600))
	require.NoError(t, os.WriteFile(certPath, []byte("not pem"), 0o600))

	_, err := LoadKeySet(keyPath, certPath)
	require.Error(t, err)
}

func TestParseCertificatePEM(t *testing.T) {
	ks, err := NewKeySet("idp.example.com")
	require.NoError(t, err)

	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: ks.Certificate().Raw})
	cert, err := ParseCertificatePEM(certPEM)
	require.NoError(t, err)
	assert.Equal(t, ks.Certificate().Raw, cert.Raw)

	_, err = ParseCertificatePEM([]byte("garbage"))
	require.Error(t, err)
}

package crypto

import (
	gocrypto "crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"os"
	"sync"
	"time"

	"github.com/beevik/etree"
	dsig "github.com/russellhaering/goxmldsig"
)

// SigAlgRSASHA256 is the signature algorithm URI stamped on redirect-binding
// query signatures.
const SigAlgRSASHA256 = "http://www.w3.org/2001/04/xmldsig-more#rsa-sha256"

// KeySet holds the IdP's RSA signing key and its X.509 certificate. It
// implements the protocol core's signing service.
type KeySet struct {
	rsaKey      *rsa.PrivateKey
	certificate *x509.Certificate
	createdAt   time.Time
	mu          sync.RWMutex
}

// NewKeySet generates a fresh 2048-bit RSA key with a self-signed
// certificate.
func NewKeySet(commonName string) (*KeySet, error) {
	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("failed to generate RSA key: %w", err)
	}

	cert, err := selfSign(rsaKey, commonName)
	if err != nil {
		return nil, err
	}

	return &KeySet{
		rsaKey:      rsaKey,
		certificate: cert,
		createdAt:   time.Now(),
	}, nil
}

// LoadKeySet reads a PEM-encoded private key and certificate from disk.
func LoadKeySet(keyPath, certPath string) (*KeySet, error) {
	keyPEM, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}
	rsaKey, err := parseRSAKeyPEM(keyPEM)
	if err != nil {
		return nil, err
	}

	certPEM, err := os.ReadFile(certPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read certificate file: %w", err)
	}
	cert, err := ParseCertificatePEM(certPEM)
	if err != nil {
		return nil, err
	}

	return &KeySet{
		rsaKey:      rsaKey,
		certificate: cert,
		createdAt:   time.Now(),
	}, nil
}

func selfSign(key *rsa.PrivateKey, commonName string) (*x509.Certificate, error) {
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("failed to generate certificate serial: %w", err)
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: commonName},
		NotBefore:    time.Now().Add(-5 * time.Minute),
		NotAfter:     time.Now().AddDate(2, 0, 0),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("failed to create certificate: %w", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		return nil, fmt.Errorf("failed to parse generated certificate: %w", err)
	}
	return cert, nil
}

func parseRSAKeyPEM(data []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("no PEM block in key file")
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}
	rsaKey, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("private key is not RSA")
	}
	return rsaKey, nil
}

// ParseCertificatePEM parses a single PEM-encoded X.509 certificate.
func ParseCertificatePEM(data []byte) (*x509.Certificate, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, fmt.Errorf("no PEM block in certificate data")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}
	return cert, nil
}

// RSAPrivateKey returns the RSA private key.
func (ks *KeySet) RSAPrivateKey() *rsa.PrivateKey {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	return ks.rsaKey
}

// Certificate returns the active signing certificate.
func (ks *KeySet) Certificate() *x509.Certificate {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	return ks.certificate
}

// CreatedAt returns when the key material was loaded or generated.
func (ks *KeySet) CreatedAt() time.Time {
	ks.mu.RLock()
	defer ks.mu.RUnlock()
	return ks.createdAt
}

// SignQuery signs redirect-binding query octets with RSA-SHA256.
func (ks *KeySet) SignQuery(octets string) (string, []byte, error) {
	ks.mu.RLock()
	key := ks.rsaKey
	ks.mu.RUnlock()

	digest := sha256.Sum256([]byte(octets))
	signature, err := rsa.SignPKCS1v15(rand.Reader, key, gocrypto.SHA256, digest[:])
	if err != nil {
		return "", nil, fmt.Errorf("failed to sign query: %w", err)
	}
	return SigAlgRSASHA256, signature, nil
}

// SignEnveloped attaches an enveloped XML signature to el, canonicalized
// with exclusive C14N and signed RSA-SHA256.
func (ks *KeySet) SignEnveloped(el *etree.Element) (*etree.Element, error) {
	ctx := dsig.NewDefaultSigningContext(keyStore{ks})
	ctx.Canonicalizer = dsig.MakeC14N10ExclusiveCanonicalizerWithPrefixList("")
	ctx.Hash = gocrypto.SHA256
	if err := ctx.SetSignatureMethod(dsig.RSASHA256SignatureMethod); err != nil {
		return nil, fmt.Errorf("failed to set signature method: %w", err)
	}
	signed, err := ctx.SignEnveloped(el)
	if err != nil {
		return nil, fmt.Errorf("failed to sign element: %w", err)
	}
	return signed, nil
}

// keyStore adapts KeySet to goxmldsig's X509KeyStore.
type keyStore struct {
	ks *KeySet
}

func (s keyStore) GetKeyPair() (*rsa.PrivateKey, []byte, error) {
	s.ks.mu.RLock()
	defer s.ks.mu.RUnlock()
	return s.ks.rsaKey, s.ks.certificate.Raw, nil
}

package activitypub

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"net/http"
	"strings"

	"code.superseriousbusiness.org/httpsig"
)

// SignRequest signs an outgoing HTTP request with the given private key.
// keyId format: "https://example.com/ap/users/alice#main-key"
func SignRequest(req *http.Request, privateKey *rsa.PrivateKey, keyId string) error {
	signer, _, err := httpsig.NewSigner(
		[]httpsig.Algorithm{httpsig.RSA_SHA256},
		httpsig.DigestSha256,
		[]string{"(request-target)", "host", "date", "digest"},
		httpsig.Signature,
		0,
	)
	if err != nil {
		return fmt.Errorf("failed to create signer: %w", err)
	}

	return signer.SignRequest(privateKey, keyId, req, nil)
}

// VerifyRequest verifies the HTTP signature on an incoming request.
// Returns the actor URI the signing key belongs to.
func VerifyRequest(req *http.Request, publicKeyPem string) (string, error) {
	verifier, err := httpsig.NewVerifier(req)
	if err != nil {
		return "", fmt.Errorf("failed to create verifier: %w", err)
	}

	rsaPubKey, err := ParsePublicKey(publicKeyPem)
	if err != nil {
		return "", err
	}

	if err := verifier.Verify(rsaPubKey, httpsig.RSA_SHA256); err != nil {
		return "", fmt.Errorf("signature verification failed: %w", err)
	}
	keyId := verifier.KeyId()

	// keyId is usually "https://example.com/ap/users/alice#main-key"
	actorURI := strings.Split(keyId, "#")[0]

	return actorURI, nil
}

// KeyId extracts the keyId parameter from a request's Signature header
// without verifying anything, so the caller can resolve the signing actor.
func KeyId(req *http.Request) (string, error) {
	verifier, err := httpsig.NewVerifier(req)
	if err != nil {
		return "", fmt.Errorf("failed to parse signature header: %w", err)
	}
	return verifier.KeyId(), nil
}

// ParsePrivateKey converts PEM string to *rsa.PrivateKey
func ParsePrivateKey(pemString string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(pemString))
	if block == nil {
		return nil, fmt.Errorf("failed to parse PEM block")
	}

	privateKey, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	return privateKey, nil
}

// ParsePublicKey converts PEM string to *rsa.PublicKey
func ParsePublicKey(pemString string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemString))
	if block == nil {
		return nil, fmt.Errorf("failed to parse PEM block")
	}

	pubKey, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}

	rsaPubKey, ok := pubKey.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("not an RSA public key")
	}

	return rsaPubKey, nil
}

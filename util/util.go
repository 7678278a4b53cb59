package util

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	_ "embed"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"log"
	"strings"
)

//go:embed version.txt
var embeddedVersion string

type RsaKeyPair struct {
	Private string
	Public  string
}

func GetVersion() string {
	return strings.TrimSpace(embeddedVersion)
}

func GetNameAndVersion() string {
	return fmt.Sprintf("%s / %s", Name, GetVersion())
}

// UserAgent is sent on all outbound federation requests
func UserAgent() string {
	return fmt.Sprintf("%s/%s ActivityPub", Name, GetVersion())
}

func PrettyPrint(i interface{}) string {
	s, _ := json.MarshalIndent(i, "", " ")
	return string(s)
}

func GeneratePemKeypair() *RsaKeyPair {
	bitSize := 4096

	key, err := rsa.GenerateKey(rand.Reader, bitSize)
	if err != nil {
		log.Fatalf("failed to generate rsa key: %v", err)
	}

	privBlock := &pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	}

	pubBytes, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		log.Fatalf("failed to marshal public key: %v", err)
	}
	pubBlock := &pem.Block{
		Type:  "PUBLIC KEY",
		Bytes: pubBytes,
	}

	return &RsaKeyPair{
		Private: string(pem.EncodeToMemory(privBlock)),
		Public:  string(pem.EncodeToMemory(pubBlock)),
	}
}

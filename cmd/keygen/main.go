// Command keygen generates an Ed25519 signing key pair for the validation
// service. The private key is printed as PKCS#8 PEM plus the base64 form
// expected in REVSYNC_SIGNING_KEY_B64; the public key in both PEM and raw
// base64 for embedding in verifying clients.
package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"flag"
	"fmt"
	"log"
)

func main() {
	keyID := flag.String("key-id", "rev-1", "rotation identifier recorded next to signatures")
	flag.Parse()

	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		log.Fatalf("generate key: %v", err)
	}

	privDER, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		log.Fatalf("marshal private key: %v", err)
	}
	privPEM := pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privDER})

	pubDER, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		log.Fatalf("marshal public key: %v", err)
	}
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})

	fmt.Printf("key id: %s\n\n", *keyID)
	fmt.Printf("private key (PEM):\n%s\n", privPEM)
	fmt.Printf("REVSYNC_SIGNING_KEY_B64:\n%s\n\n", base64.StdEncoding.EncodeToString(privPEM))
	fmt.Printf("public key (PEM):\n%s\n", pubPEM)
	fmt.Printf("public key (raw base64, for client embedding):\n%s\n", base64.StdEncoding.EncodeToString(pub))
}

// Command genkey generates the secrets CloakPost needs: the 256-bit master
// key the server derives every thread key from, and an Ed25519 identity
// keypair for a client.
package main

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"flag"
	"fmt"
)

func main() {
	identity := flag.Bool("identity", false, "generate an Ed25519 client identity keypair instead of a master key")
	flag.Parse()

	if *identity {
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			panic(err)
		}
		fmt.Printf("Public key (base64):  %s\n", base64.StdEncoding.EncodeToString(pub))
		fmt.Printf("Private key (base64): %s\n", base64.StdEncoding.EncodeToString(priv))
		return
	}

	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		panic(err)
	}
	fmt.Printf("CRYPTO_MASTER_KEY=%s\n", base64.StdEncoding.EncodeToString(key))
}

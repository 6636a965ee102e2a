// genkey mints credentials for a GreenGate deployment.
//
// Usage (run from the repo root):
//
//	go run scripts/genkey/main.go                 # fresh API key + hash
//	go run scripts/genkey/main.go -password s3cr3t # bcrypt admin hash
//
// The API key output includes the SHA-256 hash and display prefix for a
// manual INSERT into api_keys when the admin API is not reachable. The
// raw key is shown once; only the hash is ever stored.
package main

import (
	"flag"
	"fmt"
	"os"

	"golang.org/x/crypto/bcrypt"

	"github.com/greengate-br/greengate/internal/auth"
)

func main() {
	password := flag.String("password", "", "print a bcrypt hash for GREENGATE_ADMIN_PASSWORD_HASH instead of an API key")
	flag.Parse()

	if *password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(*password), bcrypt.DefaultCost)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: hash password: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("GREENGATE_ADMIN_PASSWORD_HASH=%s\n", hash)
		return
	}

	gen, err := auth.GenerateKey()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: generate key: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("api key:  %s\n", gen.Raw)
	fmt.Printf("hash:     %s\n", gen.Hash)
	fmt.Printf("prefix:   %s\n", gen.Prefix)
	fmt.Println()
	fmt.Println("Store only the hash and prefix. The raw key cannot be recovered.")
}

package commands

import (
	"fmt"
	"os"

	"github.com/blikh/mikrotik-wg-meter/internal/secrets"
)

// GenSecret prints a fresh random secret key for the secret_key config
// option.
func GenSecret(args []string) {
	key, err := secrets.GenerateKey()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to generate key: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(key)
}

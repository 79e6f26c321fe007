// Command mailbatch-keygen generates an API key for a principal and prints
// the config entry that enables it.
//
// Usage:
//
//	mailbatch-keygen -principal billing
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/sungwon/mailbatch/internal/auth"
)

func main() {
	principal := flag.String("principal", "", "principal the key authenticates (required)")
	flag.Parse()

	if *principal == "" {
		fmt.Fprintln(os.Stderr, "-principal is required")
		flag.Usage()
		os.Exit(2)
	}

	key, err := auth.GenerateAPIKey()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	hash, err := auth.HashKey(key)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	fmt.Printf("API key (shown once): %s\n\n", key)
	fmt.Println("Add to config.yaml under api.keys:")
	fmt.Printf("  - principal: %q\n    hash: %q\n", *principal, hash)
}

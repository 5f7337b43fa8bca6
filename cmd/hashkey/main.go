package main

import (
	"fmt"
	"os"

	"github.com/eldtechnologies/confide/internal/access"
)

func main() {
	if len(os.Args) != 2 {
		fmt.Fprintln(os.Stderr, "usage: hashkey <credential>")
		os.Exit(2)
	}

	hash, err := access.HashCredential(os.Args[1])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	fmt.Printf("LIST_ACCESS_HASH=%s\n", hash)
}

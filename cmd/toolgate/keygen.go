package main

import (
	"fmt"

	"github.com/revittco/toolgate/internal/secrets"
)

func cmdKeygen(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: toolgate keygen <path>")
	}
	pub, err := secrets.GenerateKeyFile(args[0])
	if err != nil {
		return err
	}
	fmt.Printf("Wrote age identity to %s\nPublic key: %s\n", args[0], pub)
	return nil
}

package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/kabili207/mesh-telegraph/pkg/auth"
)

func main() {
	username := flag.String("user", "gateway", "Broker username the credentials are for")
	password := flag.String("password", "", "Password to hash (random when empty)")
	length := flag.Int("length", 16, "Length of a random password in bytes (will be hex encoded, so output is 2x this)")
	flag.Parse()

	pass := *password
	if pass == "" {
		var err error
		pass, err = auth.RandomHex(*length)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error generating password: %v\n", err)
			os.Exit(1)
		}
	}

	hash, salt, err := auth.GenerateHashAndSalt(pass)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error hashing password: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Password: %s\n\n", pass)
	fmt.Println("Add to mqtt.broker.users:")
	fmt.Printf("  - username: %s\n", *username)
	fmt.Printf("    password_hash: %s\n", hash)
	fmt.Printf("    salt: %s\n", salt)
}

//go:build ignore
// +build ignore

package main

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
)

func main() {
	size := 32
	if len(os.Args) > 1 {
		n, err := strconv.Atoi(os.Args[1])
		if err != nil || n < 16 {
			fmt.Println("Usage: go run generate_admin_secret.go [bytes]")
			fmt.Println("bytes must be at least 16 (default 32)")
			os.Exit(1)
		}
		size = n
	}

	buf := make([]byte, size)
	if _, err := rand.Read(buf); err != nil {
		fmt.Printf("Error reading random bytes: %v\n", err)
		os.Exit(1)
	}
	secret := hex.EncodeToString(buf)

	fmt.Printf("Secret: %s\n", secret)
	fmt.Println("\nSet it for the server and for whatever calls the queue endpoints:")
	fmt.Printf("ETL_AUTH_ADMIN_SECRET=%s\n", secret)
	fmt.Printf("curl -X POST -H 'Authorization: Bearer %s' http://localhost:8080/api/v1/queue/start\n", secret)
}

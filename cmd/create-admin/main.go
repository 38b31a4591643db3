package main

import (
	"fmt"
	"log"

	"tikiti/internal/utils"
)

// Generates a fresh admin API key and the hash to configure as ADMIN_API_KEY_HASH.
func main() {
	token, err := utils.GenerateSecureToken(32)
	if err != nil {
		log.Fatal("Failed to generate key:", err)
	}
	key := "tk_admin_" + token

	hash, err := utils.HashAPIKey(key)
	if err != nil {
		log.Fatal("Failed to hash key:", err)
	}

	fmt.Println("Admin API key created. Store the key somewhere safe, it is not shown again.")
	fmt.Printf("  Key:  %s\n", key)
	fmt.Printf("  Env:  ADMIN_API_KEY_HASH=%s\n", hash)
}

package main

import (
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"tikiti/internal/config"
	"tikiti/internal/middleware"
	"tikiti/internal/models"
)

// Issues a bearer token for local testing against a development server.
func main() {
	var (
		role  = flag.String("role", "user", "Role to grant: user, organizer or admin")
		id    = flag.String("id", "", "User ID (random when empty)")
		email = flag.String("email", "test@example.com", "Email claim")
		phone = flag.String("phone", "254712345678", "Phone claim used for M-Pesa checkout")
		ttl   = flag.Duration("ttl", 24*time.Hour, "Token lifetime")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}
	if cfg.IsProduction() {
		log.Fatal("Refusing to issue test tokens in production")
	}

	switch models.UserRole(*role) {
	case models.UserRoleUser, models.UserRoleOrganizer, models.UserRoleAdmin:
	default:
		log.Fatalf("Unknown role %q", *role)
	}

	userID := *id
	if userID == "" {
		userID = uuid.NewString()
	}
	if _, err := uuid.Parse(userID); err != nil {
		log.Fatalf("Invalid user ID %q: %v", userID, err)
	}

	identity := models.Identity{
		UserID: userID,
		Email:  *email,
		Phone:  *phone,
		Role:   models.UserRole(*role),
	}
	token, err := middleware.IssueToken(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer, identity, *ttl)
	if err != nil {
		log.Fatal("Failed to issue token:", err)
	}

	fmt.Printf("Test %s token for %s (expires in %s):\n\n", identity.Role, identity.UserID, *ttl)
	fmt.Printf("Authorization: Bearer %s\n", token)
}

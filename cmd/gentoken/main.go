// Package main provides a small tool that issues operator tokens for the controller API.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/narvanalabs/tower-controller/internal/auth"
)

func main() {
	operator := flag.String("operator", "admin", "Operator name carried in the token")
	secret := flag.String("secret", "", "JWT secret (or set JWT_SECRET env var)")
	expiry := flag.Duration("expiry", 24*365*time.Hour, "Token expiry duration (default: 1 year)")
	flag.Parse()

	jwtSecret := *secret
	if jwtSecret == "" {
		jwtSecret = os.Getenv("JWT_SECRET")
	}
	if jwtSecret == "" {
		fmt.Fprintln(os.Stderr, "Error: JWT secret required. Use -secret flag or set JWT_SECRET env var")
		fmt.Fprintln(os.Stderr, "Example: go run ./cmd/gentoken -secret 'your-secret-at-least-32-chars-long'")
		os.Exit(1)
	}
	if len(jwtSecret) < auth.MinSecretLength {
		fmt.Fprintf(os.Stderr, "Error: JWT secret must be at least %d characters\n", auth.MinSecretLength)
		os.Exit(1)
	}

	svc := auth.NewService(&auth.Config{
		JWTSecret:   []byte(jwtSecret),
		TokenExpiry: *expiry,
	}, nil)
	token, err := svc.GenerateToken(*operator)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error generating token: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(token)
}

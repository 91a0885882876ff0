// Command token signs an access token for a user with the configured secret.
package main

import (
	"flag"
	"fmt"
	"log"
	"strings"

	"villagepay.org/internal/auth"
	"villagepay.org/internal/config"
)

func main() {
	log.SetFlags(0)
	var (
		user  = flag.String("user", "", "User id placed in the token subject")
		roles = flag.String("roles", auth.RoleHomeowner, "Comma-separated roles: admin, officer, homeowner")
		ttl   = flag.Duration("ttl", 0, "Token lifetime (default: configured token_ttl)")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	lifetime := cfg.Auth.TokenTTL
	if *ttl > 0 {
		lifetime = *ttl
	}
	issuer, err := auth.NewIssuer(cfg.Auth.Secret, cfg.Auth.Issuer, lifetime)
	if err != nil {
		log.Fatalf("auth issuer: %v", err)
	}

	token, err := issuer.GenerateToken(*user, strings.Split(*roles, ","))
	if err != nil {
		log.Fatalf("generate token: %v", err)
	}
	fmt.Println(token)
}

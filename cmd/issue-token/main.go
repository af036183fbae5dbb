// Command issue-token mints a service token for an external system.
// It needs only AUTH_* settings and prints the token on stdout.
//
//	issue-token -subject kyc-vendor [-scope submitter|operator] [-ttl 720h]
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"

	"github.com/heartmarshall/taskflow-backend/internal/auth"
	"github.com/heartmarshall/taskflow-backend/internal/config"
)

func main() {
	subject := flag.String("subject", "", "name of the system that will hold the token")
	scope := flag.String("scope", string(auth.ScopeSubmitter), "submitter or operator")
	ttl := flag.Duration("ttl", 0, "token lifetime; defaults to auth.token_ttl")
	flag.Parse()

	if *subject == "" {
		fmt.Fprintln(os.Stderr, "usage: issue-token -subject <name> [-scope submitter|operator] [-ttl 720h]")
		os.Exit(2)
	}

	cfg, err := loadAuth()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if len(cfg.JWTSecret) < 32 {
		log.Fatalf("AUTH_JWT_SECRET must be at least 32 characters")
	}

	lifetime := cfg.TokenTTL
	if *ttl > 0 {
		lifetime = *ttl
	}

	token, err := auth.NewJWTManager(cfg.JWTSecret, cfg.JWTIssuer, lifetime).Issue(*subject, auth.Scope(*scope))
	if err != nil {
		log.Fatalf("issue token: %v", err)
	}

	fmt.Fprintf(os.Stderr, "subject=%s scope=%s expires=%s\n", *subject, *scope, time.Now().Add(lifetime).UTC().Format(time.RFC3339))
	fmt.Println(token)
}

// loadAuth reads only the auth section so the command runs without a database DSN.
func loadAuth() (config.AuthConfig, error) {
	var cfg struct {
		Auth config.AuthConfig `yaml:"auth"`
	}
	if path := os.Getenv("CONFIG_PATH"); path != "" {
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return config.AuthConfig{}, fmt.Errorf("read %s: %w", path, err)
		}
		return cfg.Auth, nil
	}
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return config.AuthConfig{}, fmt.Errorf("read env: %w", err)
	}
	return cfg.Auth, nil
}

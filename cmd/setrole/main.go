// Package main provides a CLI tool for setting user roles. It also
// activates accounts with -activate, which is how the first admin is
// bootstrapped before any admin exists to approve registrations.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/parlorchat/parlor/internal/config"
	"github.com/parlorchat/parlor/internal/storage/postgres"
)

func main() {
	start := time.Now()

	configPath := flag.String("config", "configs/dev.yaml", "path to configuration file")
	username := flag.String("username", "", "target username (required)")
	role := flag.String("role", "", "role to assign: user or admin")
	activate := flag.Bool("activate", false, "also mark the account active")
	flag.Parse()

	if *username == "" || (*role == "" && !*activate) {
		flag.Usage()
		os.Exit(1)
	}

	if *role != "" && !postgres.ValidRole(*role) {
		log.Fatalf("invalid role %q: must be one of user, admin", *role)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading config: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := postgres.NewPool(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("connecting to database: %v", err)
	}
	defer pool.Close()

	repo := postgres.NewUserRepository(pool.DB())

	u, err := repo.GetByUsername(ctx, *username)
	if err != nil {
		log.Fatalf("looking up user %q: %v", *username, err)
	}

	if *role != "" {
		if err := repo.SetRole(ctx, u.ID, *role); err != nil {
			log.Fatalf("setting role: %v", err)
		}
	}
	if *activate {
		if err := repo.SetStatus(ctx, u.ID, postgres.StatusActive); err != nil {
			log.Fatalf("activating user: %v", err)
		}
	}

	newRole := u.Role
	if *role != "" {
		newRole = *role
	}
	status := u.Status
	if *activate {
		status = postgres.StatusActive
	}

	elapsed := time.Since(start)
	fmt.Fprintf(os.Stdout, "updated %s: role %s -> %s, status %s -> %s [%s]\n",
		u.Username, u.Role, newRole, u.Status, status, elapsed)
}

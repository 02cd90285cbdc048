// Seeds demo users and funded wallets for local development.
package main

import (
	"context"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/ridewell/ridewell/internal/config"
	"github.com/ridewell/ridewell/internal/model"
	"github.com/ridewell/ridewell/internal/repository"
	"github.com/ridewell/ridewell/internal/service"
)

func main() {
	cfg, err := config.New()
	if err != nil {
		log.Fatalf("Config error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DSN())
	if err != nil {
		log.Fatalf("Unable to connect to database: %v", err)
	}
	defer pool.Close()

	store := repository.NewPostgres(pool)
	q := store.Q()
	ledger := service.NewLedger(store, zap.NewNop())

	seeds := []struct {
		name    string
		role    model.Role
		balance int64
	}{
		{"Alice Customer", model.RoleCustomer, 10000},
		{"Bob Customer", model.RoleCustomer, 2500},
		{"Dana Driver", model.RoleDriver, 0},
		{"Eli Driver", model.RoleDriver, 0},
		{"Ops Admin", model.RoleAdmin, 0},
	}

	for _, s := range seeds {
		user, err := q.CreateUser(ctx, s.name, s.role)
		if err != nil {
			log.Fatalf("Failed to create user %s: %v", s.name, err)
		}
		// Accounts start at zero; the seed balance arrives as a real
		// credit so the sum-of-deltas invariant holds from day one.
		acct, err := q.CreateAccount(ctx, user.ID, 0)
		if err != nil {
			log.Fatalf("Failed to create account for %s: %v", s.name, err)
		}
		if s.balance > 0 {
			if _, err := ledger.Credit(ctx, acct.ID, s.balance, "seed funding", nil); err != nil {
				log.Fatalf("Failed to fund account for %s: %v", s.name, err)
			}
		}
		log.Printf("Seeded %s (%s) user=%s account=%s balance=%d",
			s.name, s.role, user.ID, acct.ID, s.balance)
	}
}

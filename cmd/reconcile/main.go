// Command reconcile audits every pool's ledger invariants against the
// database: share conservation, the capital bound, NAV recomputability,
// and redemption earmark consistency. Run it after a crash before
// restarting the engine.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"fundpool-engine/config"
	"fundpool-engine/internal/database"
	"fundpool-engine/internal/ledger"
)

func main() {
	godotenv.Load()

	verbose := flag.Bool("v", false, "print clean pools too")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	db, err := database.NewDB(database.Config{
		Host:     cfg.DatabaseConfig.Host,
		Port:     cfg.DatabaseConfig.Port,
		User:     cfg.DatabaseConfig.User,
		Password: cfg.DatabaseConfig.Password,
		Database: cfg.DatabaseConfig.Database,
		SSLMode:  cfg.DatabaseConfig.SSLMode,
	})
	if err != nil {
		fmt.Printf("Failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	repo := database.NewRepository(db)
	pools, err := repo.ListPools(ctx)
	if err != nil {
		fmt.Printf("Failed to list pools: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Reconciling %d pools\n\n", len(pools))

	failed := 0
	for _, pool := range pools {
		stakes, err := repo.GetStakesByPool(ctx, pool.ID)
		if err != nil {
			fmt.Printf("pool %s: failed to load stakes: %v\n", pool.ID, err)
			failed++
			continue
		}
		positions, err := repo.GetOpenPositionsByPool(ctx, pool.ID)
		if err != nil {
			fmt.Printf("pool %s: failed to load positions: %v\n", pool.ID, err)
			failed++
			continue
		}

		st := ledger.NewState(pool, stakes, positions)
		result := ledger.ValidateState(st)

		// A pending redemption must carry its fixed payout quote; a stake
		// stuck pending without one means the request crashed between the
		// stake write and the pool earmark.
		for _, s := range stakes {
			if s.Status == ledger.StakePendingRedemption && s.RedemptionAmount == nil {
				result.Errors = append(result.Errors,
					fmt.Sprintf("stake %s pending redemption without a payout quote", s.ID))
				result.IsValid = false
			}
		}

		if result.IsValid && len(result.Warnings) == 0 && !*verbose {
			continue
		}

		fmt.Printf("pool %s (strategy %s): valid=%v\n", pool.ID, pool.StrategyID, result.IsValid)
		for _, e := range result.Errors {
			fmt.Printf("  ERROR   %s\n", e)
		}
		for _, w := range result.Warnings {
			fmt.Printf("  WARNING %s\n", w)
		}
		if !result.IsValid {
			failed++
		}
	}

	if failed > 0 {
		fmt.Printf("\n%d pools failed reconciliation\n", failed)
		os.Exit(1)
	}
	fmt.Println("\nAll pools reconciled clean")
}

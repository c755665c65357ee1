// Command reconcile runs one repair sweep over the feed tables: orphaned
// comments and reactions are removed and drifted comment counters recounted.
package main

import (
	"context"
	"flag"
	"log"
	"time"

	"campusfeed/internal/config"
	"campusfeed/internal/database"
	"campusfeed/internal/notifications"
	"campusfeed/internal/repository"
	"campusfeed/internal/service"
)

func main() {
	timeout := flag.Duration("timeout", 5*time.Minute, "Abort the sweep after this long")
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	db, err := database.Connect(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	// Live subscribers run in the server process; a one-off sweep has nobody to notify.
	live := service.Live{Broker: notifications.NewMemoryBroker(), StaleAfter: cfg.SubscriptionStaleAfter}
	tx := repository.NewTransactor(db, cfg.TxMaxAttempts)
	reconciler := service.NewReconciler(repository.NewReconcileRepository(tx), live, 0)

	report, err := reconciler.Sweep(ctx)
	if err != nil {
		log.Fatalf("Sweep failed: %v", err)
	}
	log.Printf("orphan comments=%d orphan reactions=%d recounted posts=%v clean=%t",
		report.OrphanComments, report.OrphanReactions, report.RecountedPosts, report.Clean())
}

package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"classtrack/internal/audit"
	"classtrack/internal/config"
	"classtrack/internal/queue"
	"classtrack/internal/store"
)

// Worker consumes engine audit events from the queue and persists the trail.
// Check-in commits never wait on this path; losing an audit row is logged,
// not retried into the request.
func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer db.Close()

	if err := store.EnsureSchema(ctx, db.Client); err != nil {
		log.Fatalf("schema bootstrap failed: %v", err)
	}

	redisClient := store.NewRedis(cfg.RedisAddr)

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "classtrack:audit")
	}

	repo := audit.NewRepository(db.Client)

	messages, err := q.Consume(ctx)
	if err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}

	log.Println("audit worker started, waiting for events...")
	for msg := range messages {
		event, err := audit.Decode(msg.Body)
		if err != nil {
			log.Printf("drop malformed event (%s): %v", msg.Type, err)
			continue
		}
		entry, err := repo.Insert(ctx, event)
		if err != nil {
			log.Printf("audit insert failed for session %s: %v", event.SessionID, err)
			continue
		}
		log.Printf("recorded %s event %s for session %s", entry.Kind, entry.ID, entry.SessionID)
	}

	log.Println("audit worker stopped")
}

package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/Morditux/kvsession"
)

func main() {
	ctx := context.Background()

	logger, err := kvsession.NewLogger(os.Stderr, "info", "console")
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}

	// Initialize SQLite backend
	backend, err := kvsession.NewSQLiteBackend("sessions.db")
	if err != nil {
		log.Fatalf("failed to create backend: %v", err)
	}
	defer backend.Close()

	// Alternative: Redis with native expiry
	// backend := kvsession.NewRedisBackend(cfg)
	// defer backend.Close()

	// SQLite emulates expiry, so expired rows must be swept.
	janitor := kvsession.StartJanitor(backend, 5*time.Minute, logger)
	defer janitor.Stop()

	cfg := kvsession.ConnectionConfig{
		Host:          "localhost",
		Port:          6379,
		KeyPrefix:     "demo:",
		RetryInterval: 100 * time.Millisecond,
		MaxRetries:    3,
	}
	conn, err := kvsession.NewConnection(backend, cfg, logger)
	if err != nil {
		log.Fatalf("failed to create connection: %v", err)
	}

	ids, err := kvsession.NewOwnerIDGenerator("anon", 32)
	if err != nil {
		log.Fatalf("failed to create id generator: %v", err)
	}

	pipeline := kvsession.NewPipeline(logger).
		AddWriteFilter(kvsession.SizeLimitFilter{MaxBytes: 4096})

	h, err := kvsession.NewHandler(conn, kvsession.HandlerConfig{
		IDGenerator: ids,
		Pipeline:    pipeline,
		MaxLifetime: time.Hour,
		Logger:      &logger,
	})
	if err != nil {
		log.Fatalf("failed to create handler: %v", err)
	}
	if !h.Open(ctx) {
		log.Fatal("session storage unavailable")
	}
	defer h.Close()

	owner := kvsession.WithOwner(ctx, "alice@example.com")
	id, err := h.CreateID(owner)
	if err != nil {
		log.Fatalf("failed to allocate session id: %v", err)
	}

	codec := kvsession.StructuredCodec{}
	for visit := 1; visit <= 3; visit++ {
		data, err := codec.Decode(h.Read(ctx, id))
		if err != nil {
			log.Fatalf("failed to decode session: %v", err)
		}

		count, _ := data.Get("count")
		n, _ := count.AsInt()
		data.Set("count", kvsession.Int(n+1))

		wire, err := codec.Encode(data)
		if err != nil {
			log.Fatalf("failed to encode session: %v", err)
		}
		if !h.Write(ctx, id, wire) {
			log.Fatal("failed to save session")
		}
		fmt.Printf("visit %d: count=%d\n", visit, n+1)
	}

	admin, err := kvsession.NewOwnerAdmin(conn, logger)
	if err != nil {
		log.Fatalf("failed to create admin: %v", err)
	}
	sessions, err := admin.ListOwnerSessions(ctx, "alice@example.com")
	if err != nil {
		log.Fatalf("failed to list sessions: %v", err)
	}
	for _, s := range sessions {
		fmt.Printf("alice has session %s (%d bytes)\n", s.MaskedID, s.PayloadSize)
	}

	removed, err := admin.ForceInvalidateOwner(ctx, "alice@example.com")
	if err != nil {
		log.Fatalf("failed to invalidate: %v", err)
	}
	fmt.Printf("invalidated %d session(s)\n", removed)
}

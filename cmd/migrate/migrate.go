package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/DaZeTw/LOL-PaperReader-sub000/internal/blob"
	"github.com/DaZeTw/LOL-PaperReader-sub000/internal/config"
	"github.com/DaZeTw/LOL-PaperReader-sub000/internal/logger"
	"github.com/DaZeTw/LOL-PaperReader-sub000/internal/vector"
)

// Provisions backing services: Mongo indexes, the MinIO bucket and the
// Qdrant collection. Safe to run repeatedly.
func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: go run ./cmd/migrate <command>")
		fmt.Println("Commands:")
		fmt.Println("  init    - Create Mongo indexes, blob bucket and vector collection")
		fmt.Println("  verify  - Check every backing service is reachable")
		fmt.Println("  reset   - Drop and recreate the vector collection")
		os.Exit(1)
	}
	command := os.Args[1]

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger.InitLogger(cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	switch command {
	case "init":
		if err := initBackends(ctx, cfg); err != nil {
			log.Fatalf("Init failed: %v", err)
		}
		fmt.Println("All backing services provisioned.")

	case "verify":
		if err := verifyBackends(ctx, cfg); err != nil {
			log.Fatalf("Verification failed: %v", err)
		}
		fmt.Println("All backing services reachable.")

	case "reset":
		if err := resetVectors(ctx, cfg); err != nil {
			log.Fatalf("Reset failed: %v", err)
		}
		fmt.Println("Vector collection recreated.")

	default:
		fmt.Printf("Unknown command: %s\n", command)
		os.Exit(1)
	}
}

// initBackends connects each service; the constructors create indexes,
// the bucket and the collection as a side effect.
func initBackends(ctx context.Context, cfg *config.Config) error {
	mongoClient, err := config.ConnectMongoDB(cfg)
	if err != nil {
		return fmt.Errorf("mongo: %w", err)
	}
	defer mongoClient.Disconnect(ctx)
	fmt.Printf("Mongo indexes ensured on %s\n", cfg.DBName)

	if _, err := blob.NewStore(cfg); err != nil {
		return fmt.Errorf("blob store: %w", err)
	}
	fmt.Printf("Blob bucket ensured: %s\n", cfg.MinioBucket)

	vectors, err := vector.NewIndex(cfg)
	if err != nil {
		return fmt.Errorf("vector index: %w", err)
	}
	defer vectors.Close()
	fmt.Printf("Vector collection ensured: %s (dim %d)\n", cfg.QdrantCollection, cfg.VectorDim)

	return nil
}

func verifyBackends(ctx context.Context, cfg *config.Config) error {
	mongoClient, err := config.ConnectMongoDB(cfg)
	if err != nil {
		return fmt.Errorf("mongo: %w", err)
	}
	defer mongoClient.Disconnect(ctx)

	rdb, err := config.NewRedisClient(cfg)
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	defer rdb.Close()

	blobs, err := blob.NewStore(cfg)
	if err != nil {
		return fmt.Errorf("blob store: %w", err)
	}
	if err := blobs.Healthy(ctx); err != nil {
		return fmt.Errorf("blob store: %w", err)
	}

	vectors, err := vector.NewIndex(cfg)
	if err != nil {
		return fmt.Errorf("vector index: %w", err)
	}
	defer vectors.Close()
	if err := vectors.Healthy(ctx); err != nil {
		return fmt.Errorf("vector index: %w", err)
	}

	count, err := vectors.Count(ctx)
	if err != nil {
		return fmt.Errorf("vector count: %w", err)
	}
	fmt.Printf("Vector collection %s holds %d points\n", cfg.QdrantCollection, count)

	return nil
}

func resetVectors(ctx context.Context, cfg *config.Config) error {
	vectors, err := vector.NewIndex(cfg)
	if err != nil {
		return err
	}
	defer vectors.Close()
	return vectors.Reset(ctx)
}

package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/sagabus/pkg/persistence"
	"github.com/dukex/sagabus/pkg/persistence/file"
	"github.com/dukex/sagabus/pkg/persistence/postgresql"
	"github.com/dukex/sagabus/pkg/persistence/redis"
)

var supportedStoreProviders = []string{"file", "redis", "postgres", "postgresql"}

// NewTransactionStore creates a transaction store from a connection URL.
// Unknown schemes fall back to the file store.
func NewTransactionStore(ctx context.Context, logger *slog.Logger, storeURL string) persistence.TransactionStore {
	switch parseStoreProvider(storeURL) {
	case "redis":
		store, err := redis.NewStore(storeURL)
		if err != nil {
			panic(fmt.Errorf("failed to create Redis store: %w", err))
		}

		return store
	case "postgres", "postgresql":
		store, err := postgresql.NewStore(ctx, logger, storeURL)
		if err != nil {
			panic(fmt.Errorf("failed to create PostgreSQL store: %w", err))
		}

		return store
	default:
		return file.NewStore(storeURL)
	}
}

func parseStoreProvider(storeURL string) string {
	parts := strings.Split(storeURL, "://")

	provider := parts[0]
	for _, supported := range supportedStoreProviders {
		if provider == supported {
			return provider
		}
	}

	return "file"
}

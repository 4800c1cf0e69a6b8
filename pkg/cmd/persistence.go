// Package cmd provides shared wiring helpers for the mailflow binaries.
package cmd

import (
	"context"
	"log/slog"
	"strings"

	"github.com/loanramp/mailflow/pkg/persistence"
	"github.com/loanramp/mailflow/pkg/persistence/file"
	"github.com/loanramp/mailflow/pkg/persistence/postgresql"
)

// NewPersistence picks a backend from the URL scheme: postgres:// and
// postgresql:// use PostgreSQL, anything else is treated as a file path.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	switch parseProvider(databaseURL) {
	case "postgres", "postgresql":
		return postgresql.NewPersistence(ctx, logger, databaseURL)
	default:
		return file.NewPersistence(databaseURL), nil
	}
}

func parseProvider(databaseURL string) string {
	scheme, _, found := strings.Cut(databaseURL, "://")
	if !found {
		return "file"
	}

	return scheme
}

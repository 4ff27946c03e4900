package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/shelfmate/shelfmate/internal/app"
	"github.com/shelfmate/shelfmate/internal/config"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [seed-file.json]",
	Short: "Load books from a JSON seed file into the catalog",
	Long: `Ingest reads an array of book records from a JSON file, stores them in
the catalog, computes embeddings for new books and rebuilds the semantic
index. Re-running with the same file is safe: duplicate books (same
title and author, or same ISBN) deduplicate to the existing record.`,
	Args: cobra.ExactArgs(1),
	RunE: runIngest,
}

func init() {
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.Setup(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer func() {
		if closeErr := a.Close(); closeErr != nil {
			a.Logger.Warn("shutdown error", "error", closeErr)
		}
	}()

	stats, err := a.Ingestor.LoadFile(ctx, args[0])
	if err != nil {
		return fmt.Errorf("ingesting %s: %w", args[0], err)
	}

	fmt.Printf("Ingested %s\n", args[0])
	fmt.Printf("  records read: %d\n", stats.Read)
	fmt.Printf("  stored:       %d\n", stats.Inserted)
	fmt.Printf("  skipped:      %d\n", stats.Skipped)
	fmt.Printf("  embedded:     %d\n", stats.Embedded)
	fmt.Printf("  indexed:      %d\n", stats.Indexed)
	return nil
}

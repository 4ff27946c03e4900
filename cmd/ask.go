package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/shelfmate/shelfmate/internal/app"
	"github.com/shelfmate/shelfmate/internal/config"
	"github.com/shelfmate/shelfmate/internal/pipeline"
)

var askPersona string

var askCmd = &cobra.Command{
	Use:   "ask [message]",
	Short: "Ask for a book recommendation from the terminal",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAsk,
}

func init() {
	askCmd.Flags().StringVar(&askPersona, "persona", "",
		"persona voice (friendly, professional, flirty, mentor, sarcastic)")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
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

	res, err := a.Pipeline.HandleTurn(ctx, pipeline.TurnRequest{
		Message:   strings.Join(args, " "),
		PersonaID: askPersona,
	})
	if err != nil {
		return fmt.Errorf("handling message: %w", err)
	}

	if res.Message != "" {
		fmt.Println(res.Message)
	}
	for i, rec := range res.Recommendations {
		fmt.Printf("\n%d. %s by %s", i+1, rec.Book.Title, rec.Book.Author)
		if rec.Book.Year != nil {
			fmt.Printf(" (%d)", *rec.Book.Year)
		}
		fmt.Println()
		if rec.Explanation != "" {
			fmt.Printf("   %s\n", rec.Explanation)
		}
	}
	if res.ErrorNote != "" {
		fmt.Printf("\n(%s)\n", res.ErrorNote)
	}
	return nil
}

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/mikeboe/searxng-scraper/pkg/config"
	"github.com/mikeboe/searxng-scraper/pkg/database"
	"github.com/mikeboe/searxng-scraper/pkg/search"
	"github.com/mikeboe/searxng-scraper/pkg/searxng"
)

var (
	queriesFile string
	instanceURL string
	maxPages    int
	language    string
	fileTypes   []string
)

func main() {
	// Setup structured logging
	handler := slog.NewTextHandler(os.Stderr, nil)
	slog.SetDefault(slog.New(handler))

	// Load .env file
	if err := godotenv.Load(); err != nil {
		// It's okay if .env doesn't exist, as long as env vars are set
	}

	cfg := config.Load()

	rootCmd := &cobra.Command{
		Use:   "searxng-scraper",
		Short: "A batch search scraper for Searxng instances",
		Long:  `searxng-scraper dispatches multi-line query batches against Searxng, deduplicates the results in memory, and reports progress per query.`,
	}

	searchCmd := &cobra.Command{
		Use:   "search [queries...]",
		Short: "Run a batch of queries and print the deduplicated results",
		Run: func(cmd *cobra.Command, args []string) {
			raw, err := readBatchInput(args)
			if err != nil {
				slog.Error("Failed to read queries", "error", err)
				os.Exit(1)
			}

			batch, err := search.ParseBatch(raw)
			if err != nil {
				slog.Error("Invalid batch", "error", err)
				os.Exit(1)
			}

			url := instanceURL
			if url == "" {
				url = cfg.DefaultInstanceURL
			}
			instance := searxng.Instance{Name: "cli", URL: url, IsActive: true}
			client := searxng.NewClient(instance, cfg.PageDelay, slog.Default())

			opts := search.Options{
				PerQueryTimeout: cfg.PerQueryTimeout,
				InterQueryDelay: cfg.InterQueryDelay,
				MaxPages:        maxPages,
				Language:        language,
				SafeSearch:      cfg.SafeSearch,
				FileTypes:       fileTypes,
			}

			acc := search.NewAccumulator()
			engine := search.NewEngine(client, acc, opts, slog.Default())

			for ev := range engine.Run(cmd.Context(), batch) {
				fmt.Fprintf(os.Stderr, "[%d/%d] %s: %s (+%d, total %d)\n",
					ev.QueryIndex+1, len(batch.Queries), ev.QueryText, ev.Status,
					ev.ResultsAdded, ev.TotalAccumulated)
			}

			for _, r := range acc.Snapshot() {
				line := r.URL
				if r.FileType != "" {
					line += "\t" + r.FileType
				}
				fmt.Println(line)
			}

			summary := batch.Progress.Summary()
			fmt.Fprintf(os.Stderr, "done: %d completed, %d failed, %d timed out, %d results\n",
				summary.Completed, summary.Failed, summary.TimedOut, acc.Len())
		},
	}
	searchCmd.Flags().StringVarP(&queriesFile, "file", "f", "", "Read queries from a file instead of arguments ('-' for stdin)")
	searchCmd.Flags().StringVarP(&instanceURL, "instance", "i", "", "Searxng instance URL (defaults to the configured instance)")
	searchCmd.Flags().IntVarP(&maxPages, "pages", "p", 0, "Result pages to fetch per query")
	searchCmd.Flags().StringVarP(&language, "language", "l", "", "Search language code")
	searchCmd.Flags().StringSliceVar(&fileTypes, "file-types", nil, "Keep only these file types (e.g. pdf,spreadsheet)")

	instancesCmd := &cobra.Command{
		Use:   "instances",
		Short: "Manage stored Searxng instances",
	}

	instancesCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List stored instances",
		Run: func(cmd *cobra.Command, args []string) {
			db := mustConnect(cmd.Context(), cfg)
			defer db.Close()

			instances, err := db.ListInstances(cmd.Context())
			if err != nil {
				slog.Error("Failed to list instances", "error", err)
				os.Exit(1)
			}
			for _, inst := range instances {
				state := "inactive"
				if inst.IsActive {
					state = "active"
				}
				fmt.Printf("%s\t%s\t%s\t%s\n", inst.ID, inst.Name, inst.URL, state)
			}
		},
	})

	instancesCmd.AddCommand(&cobra.Command{
		Use:   "add <name> <url>",
		Short: "Store a new instance",
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			db := mustConnect(cmd.Context(), cfg)
			defer db.Close()

			inst, err := db.AddInstance(cmd.Context(), args[0], args[1], true)
			if err != nil {
				slog.Error("Failed to add instance", "error", err)
				os.Exit(1)
			}
			fmt.Printf("added %s (%s)\n", inst.Name, inst.ID)
		},
	})

	instancesCmd.AddCommand(&cobra.Command{
		Use:   "test <url>",
		Short: "Probe an instance with a trivial query",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			instance := searxng.Instance{Name: "probe", URL: args[0], IsActive: true}
			client := searxng.NewClient(instance, cfg.PageDelay, slog.Default())
			if err := client.TestInstance(cmd.Context()); err != nil {
				fmt.Printf("not working: %v\n", err)
				os.Exit(1)
			}
			fmt.Println("working")
		},
	})

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show stored batch and result statistics",
		Run: func(cmd *cobra.Command, args []string) {
			db := mustConnect(cmd.Context(), cfg)
			defer db.Close()

			stats, err := db.GetStatistics(cmd.Context())
			if err != nil {
				slog.Error("Failed to get statistics", "error", err)
				os.Exit(1)
			}
			fmt.Printf("batches: %d (%d completed, %d failed)\n", stats.TotalBatches, stats.CompletedBatches, stats.FailedBatches)
			fmt.Printf("results: %d (%d files)\n", stats.TotalResults, stats.FileResults)
		},
	}

	var cleanupDays int
	cleanupCmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete stored batches older than the retention window",
		Run: func(cmd *cobra.Command, args []string) {
			db := mustConnect(cmd.Context(), cfg)
			defer db.Close()

			days := cleanupDays
			if days < 1 {
				days = cfg.CleanupDays
			}
			deleted, err := db.DeleteOldResults(cmd.Context(), days)
			if err != nil {
				slog.Error("Cleanup failed", "error", err)
				os.Exit(1)
			}
			fmt.Printf("deleted %d batches older than %d days\n", deleted, days)
		},
	}
	cleanupCmd.Flags().IntVar(&cleanupDays, "days", 0, "Retention window in days")

	rootCmd.AddCommand(searchCmd, instancesCmd, statsCmd, cleanupCmd)

	if err := rootCmd.Execute(); err != nil {
		slog.Error("Command execution failed", "error", err)
		os.Exit(1)
	}
}

// readBatchInput assembles the raw batch text from arguments, a file, or
// stdin. Each argument becomes one query line.
func readBatchInput(args []string) (string, error) {
	if queriesFile == "-" {
		data, err := io.ReadAll(os.Stdin)
		return string(data), err
	}
	if queriesFile != "" {
		data, err := os.ReadFile(queriesFile)
		return string(data), err
	}
	if len(args) > 0 {
		return strings.Join(args, "\n"), nil
	}

	// Interactive Mode
	fmt.Fprintln(os.Stderr, "Enter queries, one per line (end with an empty line):")
	reader := bufio.NewReader(os.Stdin)
	var lines []string
	for {
		line, err := reader.ReadString('\n')
		line = strings.TrimSpace(line)
		if line == "" || err != nil {
			break
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n"), nil
}

func mustConnect(ctx context.Context, cfg *config.Config) *database.PostgresDB {
	db, err := database.NewPostgresDB(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	if err := db.InitSchema(ctx); err != nil {
		slog.Error("Failed to initialize schema", "error", err)
		os.Exit(1)
	}
	return db
}

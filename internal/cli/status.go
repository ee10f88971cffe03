package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/feolivs/contabilidadepro-sub003/internal/infra/storage/postgres"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show recent ingestion jobs from the database",
	Run:   runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	if cfg.Database.URL == "" {
		slog.Error("No database configured; status needs database.url")
		os.Exit(1)
	}

	ctx := context.Background()
	db, err := postgres.NewDB(ctx, cfg.Database)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = db.Close()
	}()

	rows, err := db.QueryContext(ctx, `
		SELECT id, file_name, status, retry_count, note, updated_at
		FROM ingestion_jobs
		ORDER BY updated_at DESC
		LIMIT 50
	`)
	if err != nil {
		slog.Error("Failed to query jobs", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = rows.Close()
	}()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "ID\tFILE\tSTATUS\tRETRIES\tNOTE\tUPDATED")

	for rows.Next() {
		var id, file, status, note string
		var retries int
		var updatedAt time.Time
		if err := rows.Scan(&id, &file, &status, &retries, &note, &updatedAt); err != nil {
			continue
		}
		if len(note) > 40 {
			note = note[:37] + "..."
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
			id[:8], file, status, retries, note, updatedAt.Format(time.RFC3339))
	}
	_ = w.Flush()
}

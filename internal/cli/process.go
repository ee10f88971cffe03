package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/feolivs/contabilidadepro-sub003/internal/batch"
	"github.com/feolivs/contabilidadepro-sub003/internal/control"
)

var processConcurrent int

var processCmd = &cobra.Command{
	Use:   "process <file>...",
	Short: "Process documents locally and print the extracted text",
	Args:  cobra.MinimumNArgs(1),
	Run:   runProcess,
}

func init() {
	processCmd.Flags().IntVar(&processConcurrent, "concurrent", 0, "override batch max_concurrent")
	rootCmd.AddCommand(processCmd)
}

func runProcess(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	if processConcurrent > 0 {
		cfg.Batch.MaxConcurrent = processConcurrent
	}
	// One-shot run, nothing to persist.
	cfg.Database.URL = ""
	cfg.Redis.URL = ""

	ctx := context.Background()
	svc, err := control.NewService(ctx, cfg)
	if err != nil {
		slog.Error("Failed to initialize service", "error", err)
		os.Exit(1)
	}
	orch := svc.Orchestrator()
	defer orch.Release()

	for _, path := range args {
		data, err := os.ReadFile(path)
		if err != nil {
			slog.Error("Failed to read file", "file", path, "error", err)
			os.Exit(1)
		}
		if _, err := orch.Enqueue(ctx, filepath.Base(path), data, "", "", 0); err != nil {
			slog.Error("Failed to enqueue file", "file", path, "error", err)
			os.Exit(1)
		}
	}

	svc.Extractor().StartMonitors(ctx)
	if err := orch.Start(ctx); err != nil {
		slog.Error("Failed to start batch", "error", err)
		os.Exit(1)
	}

	for orch.State() == batch.RunRunning {
		time.Sleep(200 * time.Millisecond)
	}

	failed := 0
	for _, job := range orch.Jobs() {
		fmt.Printf("=== %s [%s]\n", job.FileName, job.Status)
		switch {
		case job.Result != nil:
			fmt.Printf("method=%s provider=%s confidence=%.2f\n\n%s\n",
				job.Result.Method, job.Result.Provider, job.Result.Confidence, job.Result.Text)
		case job.LastError != nil:
			failed++
			fmt.Printf("error: %s (%s)\n", job.LastError.UserMessage, job.LastError.Kind)
		}
	}
	if failed > 0 {
		os.Exit(1)
	}
}

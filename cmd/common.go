package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"invoiceflow/internal/accounting"
	"invoiceflow/internal/accounting/excel"
	"invoiceflow/internal/accounting/quickbooks"
	"invoiceflow/internal/accounting/sheets"
	"invoiceflow/internal/config"
	"invoiceflow/internal/ocr"
	"invoiceflow/internal/store"
)

// loadConfig reads the environment configuration for a command.
func loadConfig(log zerolog.Logger) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		log.Error().Err(err).Msg("Invalid configuration")
		return nil, fmt.Errorf("invalid configuration, check your environment or .env file: %w", err)
	}
	return cfg, nil
}

// createContextWithTimeout creates a context with timeout and signal handling
func createContextWithTimeout(timeoutSecs int, log zerolog.Logger) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeoutSecs)*time.Second)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		defer signal.Stop(sigChan)
		select {
		case sig := <-sigChan:
			log.Info().
				Str("signal", sig.String()).
				Msg("Received interrupt signal, canceling")
			cancel()
		case <-ctx.Done():
		}
	}()

	return ctx, cancel
}

// validateInputFile checks that path is a readable, non-empty regular file
// no larger than maxSize.
func validateInputFile(path string, maxSize int64, log zerolog.Logger) (os.FileInfo, error) {
	fileInfo, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Error().Str("file", path).Msg("File not found")
			return nil, fmt.Errorf("file not found: %s", path)
		}
		if os.IsPermission(err) {
			log.Error().Str("file", path).Msg("Permission denied accessing file")
			return nil, fmt.Errorf("permission denied accessing file: %s", path)
		}
		return nil, fmt.Errorf("error accessing file: %w", err)
	}

	if !fileInfo.Mode().IsRegular() {
		log.Error().Str("file", path).Msg("Path is not a regular file")
		return nil, fmt.Errorf("path is not a regular file: %s", path)
	}
	if fileInfo.Size() == 0 {
		log.Error().Str("file", path).Msg("File is empty")
		return nil, fmt.Errorf("file is empty: %s", path)
	}
	if maxSize > 0 && fileInfo.Size() > maxSize {
		log.Error().
			Str("file", path).
			Int64("size", fileInfo.Size()).
			Int64("max_size", maxSize).
			Msg("File exceeds maximum size limit")
		return nil, fmt.Errorf("file too large (%d bytes), maximum size is %d bytes", fileInfo.Size(), maxSize)
	}

	return fileInfo, nil
}

// readJSONFile decodes a JSON input file into v.
func readJSONFile(path string, v any, log zerolog.Logger) error {
	if _, err := validateInputFile(path, ocr.MaxFileSizeBytes, log); err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		log.Error().Err(err).Str("file", path).Msg("Invalid JSON input")
		return fmt.Errorf("invalid JSON in %s: %w", path, err)
	}
	return nil
}

// writeJSON writes v as indented JSON to outputPath, or stdout when empty.
func writeJSON(v any, outputPath string, log zerolog.Logger) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal JSON output")
		return fmt.Errorf("failed to create JSON output: %w", err)
	}
	data = append(data, '\n')

	if outputPath != "" {
		if err := os.WriteFile(outputPath, data, 0644); err != nil {
			log.Error().
				Err(err).
				Str("output_file", outputPath).
				Msg("Failed to write output file")
			return fmt.Errorf("failed to write output file: %w", err)
		}
		log.Info().
			Str("output_file", outputPath).
			Int("bytes", len(data)).
			Msg("Results written to file")
		return nil
	}

	if _, err := os.Stdout.Write(data); err != nil {
		log.Error().Err(err).Msg("Failed to write to stdout")
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

// openStore opens PostgreSQL when DATABASE_URL is set and the JSON state
// file otherwise.
func openStore(ctx context.Context, cfg *config.Config, log zerolog.Logger) (store.Store, error) {
	if cfg.DatabaseURL != "" {
		pg, err := store.OpenPostgres(ctx, store.DefaultPostgresConfig(cfg.DatabaseURL))
		if err != nil {
			log.Error().Err(err).Msg("Failed to connect to PostgreSQL")
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		if err := pg.EnsureSchema(ctx); err != nil {
			pg.Close()
			return nil, fmt.Errorf("failed to prepare database schema: %w", err)
		}
		log.Debug().Msg("Using PostgreSQL store")
		return pg, nil
	}

	mem, err := store.OpenSnapshot(cfg.StateFile)
	if err != nil {
		log.Error().Err(err).Str("state_file", cfg.StateFile).Msg("Failed to open state file")
		return nil, fmt.Errorf("failed to open state file %s: %w", cfg.StateFile, err)
	}
	log.Debug().Str("state_file", cfg.StateFile).Msg("Using local state file")
	return mem, nil
}

// newRegistry registers every implemented provider. Renewed QuickBooks
// tokens are written back through connections.
func newRegistry(ctx context.Context, cfg *config.Config, connections store.ConnectionStore) *accounting.Registry {
	registry := accounting.NewRegistry()
	registry.Register(accounting.ProviderQuickBooks, quickbooks.NewFactory(cfg.QuickBooks(), store.TokenSink(connections)))
	registry.Register(accounting.ProviderExcel, excel.NewFactory(cfg.Excel()))
	registry.Register(accounting.ProviderSheets, lazySheetsFactory(ctx, cfg.Sheets()))
	return registry
}

// lazySheetsFactory defers creating the Sheets client until a Sheets adapter
// is requested, so commands for other providers run without Google credentials.
func lazySheetsFactory(ctx context.Context, cfg sheets.Config) accounting.Factory {
	var (
		once    sync.Once
		factory accounting.Factory
		err     error
	)
	return func(session accounting.Session) (accounting.Adapter, error) {
		once.Do(func() {
			factory, err = sheets.NewFactory(ctx, cfg)
		})
		if err != nil {
			return nil, err
		}
		return factory(session)
	}
}

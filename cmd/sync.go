package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"invoiceflow/internal/accounting"
	"invoiceflow/internal/logger"
	"invoiceflow/internal/store"
	"invoiceflow/pkg/models"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Sync an approved invoice to an accounting provider",
	Long: `Create a bill for an approved invoice in the company's accounting provider.

The vendor is resolved by name (created when no similar vendor exists)
unless --vendor-id is given. Transient provider errors are retried with
backoff. Syncing is idempotent: if the provider already holds the bill for
this invoice, the invoice is marked synced without creating a second one.

Every attempt is recorded in the sync log of the store.`,
	Example: `  # Sync a stored invoice to the company's default provider
  invoiceflow sync --invoice-id 6f1c... --company acme

  # Approve and sync an invoice exported as JSON to QuickBooks
  invoiceflow sync --invoice invoice.json --company acme --provider quickbooks --approve

  # Use a known vendor
  invoiceflow sync --invoice-id 6f1c... --company acme --vendor-id 58`,
	Args: cobra.NoArgs,
	RunE: runSync,
}

// SyncOutput is the JSON written by the sync command.
type SyncOutput struct {
	Outcome *accounting.SyncOutcome `json:"outcome"`
	Invoice *models.Invoice         `json:"invoice"`
	History []models.SyncLog        `json:"history"`
}

func init() {
	rootCmd.AddCommand(syncCmd)

	syncCmd.Flags().String("invoice-id", "", "ID of a stored invoice")
	syncCmd.Flags().String("invoice", "", "JSON file with one invoice record")
	syncCmd.Flags().StringP("company", "c", "default", "Company the invoice belongs to")
	syncCmd.Flags().StringP("provider", "p", "", "Provider to sync to (default: the company's default connection)")
	syncCmd.Flags().String("vendor-id", "", "Provider vendor ID, skips vendor resolution")
	syncCmd.Flags().Bool("approve", false, "Approve the invoice before syncing")
	syncCmd.Flags().StringP("output", "o", "", "Output file path (default: stdout)")
	syncCmd.Flags().Int("timeout", 300, "Sync timeout in seconds")
	syncCmd.MarkFlagsOneRequired("invoice-id", "invoice")
	syncCmd.MarkFlagsMutuallyExclusive("invoice-id", "invoice")
}

func runSync(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("sync")

	invoiceID, _ := cmd.Flags().GetString("invoice-id")
	invoicePath, _ := cmd.Flags().GetString("invoice")
	companyID, _ := cmd.Flags().GetString("company")
	providerName, _ := cmd.Flags().GetString("provider")
	vendorID, _ := cmd.Flags().GetString("vendor-id")
	approve, _ := cmd.Flags().GetBool("approve")
	outputPath, _ := cmd.Flags().GetString("output")
	timeoutSecs, _ := cmd.Flags().GetInt("timeout")

	cfg, err := loadConfig(log)
	if err != nil {
		return err
	}

	ctx, cancel := createContextWithTimeout(timeoutSecs, log)
	defer cancel()

	st, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer st.Close()

	inv, err := loadInvoice(ctx, st, invoiceID, invoicePath, log)
	if err != nil {
		return err
	}
	if inv.CompanyID == "" {
		inv.CompanyID = companyID
	}
	if inv.CompanyID != companyID {
		return fmt.Errorf("invoice %s belongs to company %s, not %s", inv.ID, inv.CompanyID, companyID)
	}
	if vendorID != "" {
		inv.VendorID = vendorID
	}
	if approve && inv.Status != models.StatusSynced {
		inv.Status = models.StatusApproved
	}
	if approve || invoiceID == "" {
		if err := st.Save(ctx, inv); err != nil {
			return fmt.Errorf("failed to store invoice: %w", err)
		}
	}

	conn, err := resolveConnection(ctx, st, companyID, providerName, log)
	if err != nil {
		return err
	}
	provider := accounting.Provider(conn.Provider)
	log = logger.WithProvider(logger.WithInvoice(log, inv.ID), conn.Provider)

	state := connectionState(conn)
	if !state.IsUsable() {
		log.Warn().Str("state", string(state)).Msg("Connection may need to be reconnected")
	}

	adapter, err := newRegistry(ctx, cfg, st).NewAdapter(provider, accounting.SessionFromConnection(conn))
	if err != nil {
		return handleSyncError(err, log)
	}

	log.Info().
		Str("connection_id", conn.ID).
		Str("state", string(state)).
		Msg("Starting invoice sync")

	syncer := accounting.NewSyncer(cfg.Sync(), st)
	outcome, syncErr := syncer.Sync(ctx, inv, adapter, conn.ID)

	// the invoice carries the sync result either way
	if err := st.Save(ctx, inv); err != nil {
		log.Error().Err(err).Msg("Failed to store invoice sync result")
		if syncErr == nil {
			return fmt.Errorf("bill created but the invoice could not be updated: %w", err)
		}
	}
	if syncErr != nil {
		return handleSyncError(syncErr, log)
	}

	history, err := st.ListByInvoice(ctx, inv.ID)
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load sync history")
	}

	log.Info().
		Str("bill_id", outcome.BillID).
		Bool("already_synced", outcome.AlreadySynced).
		Int("attempts", outcome.Attempts).
		Msg("Invoice sync completed")

	return writeJSON(SyncOutput{Outcome: outcome, Invoice: inv, History: history}, outputPath, log)
}

// loadInvoice reads the invoice from the store by ID or from a JSON file.
func loadInvoice(ctx context.Context, invoices store.InvoiceStore, id, path string, log zerolog.Logger) (*models.Invoice, error) {
	if id != "" {
		inv, err := invoices.Get(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("invoice %s not found. Process it first or pass --invoice with a JSON file", id)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to load invoice: %w", err)
		}
		return inv, nil
	}

	var inv models.Invoice
	if err := readJSONFile(path, &inv, log); err != nil {
		return nil, err
	}
	return &inv, nil
}

// resolveConnection picks the named provider's connection, or the company default.
func resolveConnection(ctx context.Context, connections store.ConnectionStore, companyID, providerName string, log zerolog.Logger) (*models.AccountingConnection, error) {
	if providerName != "" {
		provider, err := accounting.ParseProvider(providerName)
		if err != nil {
			return nil, handleSyncError(err, log)
		}
		return findConnection(ctx, connections, companyID, provider, log)
	}

	conn, err := connections.GetDefault(ctx, companyID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("company %s has no default accounting connection. Run: invoiceflow connect <provider> --company %s", companyID, companyID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load default connection: %w", err)
	}
	return conn, nil
}

// handleSyncError provides user-friendly error messages for accounting failures
func handleSyncError(err error, log zerolog.Logger) error {
	log.Error().Err(err).Msg("Accounting operation failed")

	var (
		unsupported *accounting.UnsupportedProviderError
		expired     *accounting.TokenExpiredError
		oauthErr    *accounting.OAuthError
		syncErr     *accounting.SyncError
	)

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("the accounting provider did not respond in time. Try increasing --timeout")
	case errors.Is(err, context.Canceled):
		return fmt.Errorf("accounting operation was canceled")
	case errors.As(err, &unsupported):
		return fmt.Errorf("%s. Supported providers: quickbooks, excel, sheets", unsupported.Error())
	case errors.Is(err, accounting.ErrNotApproved):
		return fmt.Errorf("only approved invoices can be synced. Review the invoice and pass --approve")
	case errors.Is(err, accounting.ErrNotConnected):
		return fmt.Errorf("the provider connection has no credentials. Run connect again")
	case errors.As(err, &expired):
		return fmt.Errorf("%s authorization has expired. Run: invoiceflow connect %s", expired.Provider.DisplayName(), expired.Provider)
	case errors.Is(err, accounting.ErrStateMismatch):
		return fmt.Errorf("the OAuth state does not match. Start the connect flow again and use the state it prints")
	case errors.As(err, &oauthErr):
		return fmt.Errorf("authorization failed: %s. Start the connect flow again", oauthErr.Error())
	case errors.Is(err, accounting.ErrInvalidPayload):
		return fmt.Errorf("the invoice is missing data required for a bill: %w", err)
	case errors.As(err, &syncErr) && syncErr.IsTransient:
		return fmt.Errorf("the provider is temporarily unavailable (%s). Try again later: %s", syncErr.Code, syncErr.Message)
	case errors.As(err, &syncErr):
		return fmt.Errorf("sync failed (%s): %s", syncErr.Code, syncErr.Message)
	default:
		return fmt.Errorf("accounting operation failed: %w", err)
	}
}

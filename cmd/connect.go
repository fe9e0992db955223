package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"invoiceflow/internal/accounting"
	"invoiceflow/internal/accounting/quickbooks"
	"invoiceflow/internal/logger"
	"invoiceflow/internal/store"
	"invoiceflow/pkg/models"
)

var connectCmd = &cobra.Command{
	Use:   "connect [quickbooks|excel|sheets]",
	Short: "Connect a company to an accounting provider",
	Long: `Create or refresh the stored connection between a company and an
accounting provider.

QuickBooks uses OAuth. Run the command without --callback-url to get the
consent URL and a state value. After approving access, run it again with
the full URL QuickBooks redirected to and the same --state.

Excel writes bills to invoices_<company>.xlsx in EXCEL_OUTPUT_DIR.
Google Sheets appends bills to GOOGLE_SHEET_ID using the service account
credentials; share the sheet with the service account first.

Environment variables:
  QUICKBOOKS_CLIENT_ID, QUICKBOOKS_CLIENT_SECRET,
  QUICKBOOKS_REDIRECT_URI, QUICKBOOKS_ENVIRONMENT - QuickBooks OAuth app
  EXCEL_OUTPUT_DIR                                - Excel workbook directory
  GOOGLE_SHEET_ID, GOOGLE_SHEET_WORKSHEET         - Google Sheets target`,
	Example: `  # Start the QuickBooks OAuth flow
  invoiceflow connect quickbooks --company acme

  # Finish it with the redirect URL
  invoiceflow connect quickbooks --company acme --state 3f2a... \
    --callback-url "https://app.example.com/callback?code=...&state=3f2a...&realmId=123"

  # Write bills to a local workbook and make it the default target
  invoiceflow connect excel --company acme --default`,
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"quickbooks", "excel", "sheets"},
	RunE:      runConnect,
}

var disconnectCmd = &cobra.Command{
	Use:   "disconnect [quickbooks|excel|sheets]",
	Short: "Disconnect a company from an accounting provider",
	Long: `Revoke the provider credentials where supported and deactivate the
stored connection. The connection record and its sync history are kept.`,
	Example: `  invoiceflow disconnect quickbooks --company acme`,
	Args:    cobra.ExactArgs(1),
	RunE:    runDisconnect,
}

// ConnectOutput is the JSON written by the connect command.
type ConnectOutput struct {
	Connection       *models.AccountingConnection `json:"connection,omitempty"`
	State            accounting.ConnectionState   `json:"state"`
	AuthorizationURL string                       `json:"authorization_url,omitempty"`
	OAuthState       string                       `json:"oauth_state,omitempty"`
}

func init() {
	rootCmd.AddCommand(connectCmd)
	rootCmd.AddCommand(disconnectCmd)

	connectCmd.Flags().StringP("company", "c", "default", "Company to connect")
	connectCmd.Flags().String("callback-url", "", "OAuth redirect URL received after consent (QuickBooks)")
	connectCmd.Flags().String("state", "", "OAuth state printed by the first connect step (QuickBooks)")
	connectCmd.Flags().Bool("default", false, "Make this the company's default sync target")
	connectCmd.Flags().Int("timeout", 60, "Timeout in seconds")

	disconnectCmd.Flags().StringP("company", "c", "default", "Company to disconnect")
	disconnectCmd.Flags().Int("timeout", 60, "Timeout in seconds")
}

func runConnect(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("connect")

	companyID, _ := cmd.Flags().GetString("company")
	callbackURL, _ := cmd.Flags().GetString("callback-url")
	oauthState, _ := cmd.Flags().GetString("state")
	makeDefault, _ := cmd.Flags().GetBool("default")
	timeoutSecs, _ := cmd.Flags().GetInt("timeout")

	provider, err := accounting.ParseProvider(args[0])
	if err != nil {
		return handleSyncError(err, log)
	}
	log = logger.WithProvider(log, string(provider))

	cfg, err := loadConfig(log)
	if err != nil {
		return err
	}

	state, _ := accounting.StateDisconnected.Transition(accounting.EventConnect)

	// first QuickBooks step: hand out the consent URL
	if provider == accounting.ProviderQuickBooks && callbackURL == "" {
		qb := cfg.QuickBooks()
		if qb.ClientID == "" || qb.RedirectURI == "" {
			return fmt.Errorf("QuickBooks OAuth app not configured. Set QUICKBOOKS_CLIENT_ID, QUICKBOOKS_CLIENT_SECRET and QUICKBOOKS_REDIRECT_URI")
		}
		nonce := quickbooks.NewState()
		log.Info().Str("company_id", companyID).Msg("Authorization URL issued")
		return writeJSON(ConnectOutput{
			State:            state,
			AuthorizationURL: quickbooks.AuthorizationURL(qb, nonce),
			OAuthState:       nonce,
		}, "", log)
	}

	var creds accounting.OAuthCredentials
	if provider == accounting.ProviderQuickBooks {
		if oauthState == "" {
			return fmt.Errorf("--state is required with --callback-url")
		}
		creds, err = quickbooks.ParseCallback(callbackURL, oauthState)
		if err != nil {
			return handleSyncError(err, log)
		}
	}

	ctx, cancel := createContextWithTimeout(timeoutSecs, log)
	defer cancel()

	st, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer st.Close()

	adapter, err := newRegistry(ctx, cfg, st).NewAdapter(provider, accounting.Session{CompanyID: companyID})
	if err != nil {
		return handleSyncError(err, log)
	}

	meta, err := adapter.Connect(ctx, creds)
	if err != nil {
		next, _ := state.Transition(accounting.EventAuthFailed)
		log.Error().Str("state", string(next)).Msg("Connection failed")
		return handleSyncError(err, log)
	}
	state, _ = state.Transition(accounting.EventAuthorized)

	conn := &models.AccountingConnection{
		CompanyID:           companyID,
		Provider:            string(provider),
		ProviderCompanyID:   meta.ProviderCompanyID,
		ProviderCompanyName: meta.ProviderCompanyName,
		AccessToken:         meta.AccessToken,
		RefreshToken:        meta.RefreshToken,
		TokenExpiresAt:      meta.TokenExpiresAt,
		Scopes:              meta.Scopes,
		IsDefault:           makeDefault,
		Metadata:            meta.Metadata,
	}
	if err := st.Upsert(ctx, conn); err != nil {
		log.Error().Err(err).Msg("Failed to store connection")
		return fmt.Errorf("failed to store connection: %w", err)
	}

	log.Info().
		Str("company_id", companyID).
		Str("connection_id", conn.ID).
		Str("provider_company", conn.ProviderCompanyName).
		Bool("default", conn.IsDefault).
		Msg("Accounting provider connected")

	return writeJSON(ConnectOutput{Connection: conn, State: state}, "", log)
}

func runDisconnect(cmd *cobra.Command, args []string) error {
	log := logger.WithComponent("connect")

	companyID, _ := cmd.Flags().GetString("company")
	timeoutSecs, _ := cmd.Flags().GetInt("timeout")

	provider, err := accounting.ParseProvider(args[0])
	if err != nil {
		return handleSyncError(err, log)
	}
	log = logger.WithProvider(log, string(provider))

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

	conn, err := findConnection(ctx, st, companyID, provider, log)
	if err != nil {
		return err
	}

	// revocation is best effort; the local deactivation below is what counts
	if adapter, err := newRegistry(ctx, cfg, st).NewAdapter(provider, accounting.SessionFromConnection(conn)); err == nil {
		if err := adapter.Disconnect(ctx); err != nil {
			log.Warn().Err(err).Msg("Provider disconnect failed")
		}
	} else {
		log.Warn().Err(err).Msg("Adapter unavailable, deactivating locally only")
	}

	if err := st.Deactivate(ctx, conn.ID); err != nil {
		return fmt.Errorf("failed to deactivate connection: %w", err)
	}

	log.Info().
		Str("company_id", companyID).
		Str("connection_id", conn.ID).
		Msg("Accounting provider disconnected")
	fmt.Printf("%s disconnected for company %s\n", provider.DisplayName(), companyID)
	return nil
}

// findConnection loads the active connection of a company for a provider.
func findConnection(ctx context.Context, connections store.ConnectionStore, companyID string, provider accounting.Provider, log zerolog.Logger) (*models.AccountingConnection, error) {
	conn, err := connections.Find(ctx, companyID, string(provider))
	if errors.Is(err, store.ErrNotFound) || (err == nil && !conn.IsActive) {
		log.Error().Str("company_id", companyID).Msg("No active connection")
		return nil, fmt.Errorf("company %s is not connected to %s. Run: invoiceflow connect %s --company %s",
			companyID, provider.DisplayName(), provider, companyID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load connection: %w", err)
	}
	return conn, nil
}

// connectionState reports the lifecycle state of a stored connection.
func connectionState(conn *models.AccountingConnection) accounting.ConnectionState {
	return accounting.StateFromConnection(conn, time.Now(), accounting.DefaultRefreshWindow)
}

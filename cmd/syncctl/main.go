// syncctl is an operator CLI that works against the rostersync database
// directly, for environments where the HTTP API is not reachable.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"

	"github.com/rostersync/rostersync/internal/adapters/sqlite"
	"github.com/rostersync/rostersync/internal/app/domain"
	"github.com/rostersync/rostersync/internal/app/services"
	"github.com/rostersync/rostersync/internal/backoff"
	"github.com/rostersync/rostersync/internal/config"
	"github.com/rostersync/rostersync/internal/db"
	federationapi "github.com/rostersync/rostersync/internal/federation"
	"github.com/rostersync/rostersync/internal/vault"
)

type toolkit struct {
	database *db.Database
	stores   storeSet
	services serviceSet
	log      *slog.Logger
}

type storeSet struct {
	connectors *sqlite.ConnectorStore
	sessions   *sqlite.SessionStore
	history    *sqlite.HistoryStore
	roster     *sqlite.RosterStore
}

type serviceSet struct {
	connectors   *services.ConnectorService
	orchestrator *services.Orchestrator
	recovery     *services.RecoveryService
	analytics    *services.AnalyticsService
}

func openToolkit() (*toolkit, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}

	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	database, err := db.New(cfg.Database.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	cleanup := func() {
		if err := database.Close(); err != nil {
			log.Error("database close failed", "error", err)
		}
	}

	credentialVault, err := vault.New(cfg.Vault.Key)
	if err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("init vault: %w", err)
	}

	stores := storeSet{
		connectors: sqlite.NewConnectorStore(database),
		sessions:   sqlite.NewSessionStore(database),
		history:    sqlite.NewHistoryStore(database),
		roster:     sqlite.NewRosterStore(database),
	}

	client := federationapi.NewClient(stores.connectors, stores.connectors, credentialVault, log, federationapi.ClientOptions{
		Retry: backoff.Policy{
			MaxAttempts: cfg.Sync.RetryMaxAttempts,
			BaseDelay:   cfg.RetryBaseDelay(),
			MaxDelay:    cfg.RetryMaxDelay(),
		},
		RateLimit: cfg.Sync.RequestRPS,
		RateBurst: cfg.Sync.RequestBurst,
	})
	fetcher := federationapi.NewFetcher(client, log)

	health := services.NewHealthService(stores.connectors, log)
	orchestrator := services.NewOrchestrator(
		stores.connectors, stores.sessions, stores.history,
		fetcher, federationapi.NewMapper(), stores.roster, health, log,
		services.OrchestratorOptions{RunBudget: cfg.SyncRunBudget()},
	)

	return &toolkit{
		database: database,
		stores:   stores,
		services: serviceSet{
			connectors:   services.NewConnectorService(stores.connectors, credentialVault, fetcher, log),
			orchestrator: orchestrator,
			recovery:     services.NewRecoveryService(stores.connectors, health, orchestrator, log),
			analytics:    services.NewAnalyticsService(stores.history),
		},
		log: log,
	}, cleanup, nil
}

func main() {
	_ = godotenv.Load()
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "syncctl",
		Short:         "Manage federation connectors and sync runs",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(connectorCmd(), syncCmd(), recoverCmd(), historyCmd())
	return root
}

func connectorCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "connector", Short: "Inspect and manage connectors"}
	cmd.AddCommand(connectorListCmd(), connectorShowCmd(), connectorAddCmd(), connectorTestCmd())
	return cmd
}

func connectorListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List connectors",
		RunE: func(cmd *cobra.Command, _ []string) error {
			tk, cleanup, err := openToolkit()
			if err != nil {
				return err
			}
			defer cleanup()

			connectors, err := tk.services.connectors.List(cmd.Context(), "")
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tCODE\tNAME\tSTATUS\tFAILURES\tLAST SUCCESS")
			for _, c := range connectors {
				lastSuccess := "-"
				if !c.LastSuccessAt.IsZero() {
					lastSuccess = c.LastSuccessAt.Format(time.RFC3339)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
					c.ID, c.FederationCode, c.Name, c.Status, c.ConsecutiveFailures, lastSuccess)
			}
			return w.Flush()
		},
	}
}

func connectorShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <connector-id>",
		Short: "Show one connector",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tk, cleanup, err := openToolkit()
			if err != nil {
				return err
			}
			defer cleanup()

			c, err := tk.services.connectors.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "ID:              %s\n", c.ID)
			fmt.Fprintf(out, "Name:            %s\n", c.Name)
			fmt.Fprintf(out, "Federation code: %s\n", c.FederationCode)
			fmt.Fprintf(out, "Status:          %s\n", c.Status)
			fmt.Fprintf(out, "Auth type:       %s\n", c.AuthType)
			fmt.Fprintf(out, "Membership URL:  %s\n", c.Endpoints.MembershipListURL)
			fmt.Fprintf(out, "Schedule:        %s\n", c.SyncConfig.NormalizeSchedule())
			fmt.Fprintf(out, "Failures:        %d\n", c.ConsecutiveFailures)
			if c.LastError != "" {
				fmt.Fprintf(out, "Last error:      %s\n", c.LastError)
			}
			for _, org := range c.Organizations {
				fmt.Fprintf(out, "Organization:    %s -> %s\n", org.OrganizationID, org.FederationOrgID)
			}
			return nil
		},
	}
}

func connectorAddCmd() *cobra.Command {
	var (
		name     string
		code     string
		listURL  string
		detail   string
		secret   string
		schedule string
		apiKey   string
		keyHdr   string
	)
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register an API-key connector",
		RunE: func(cmd *cobra.Command, _ []string) error {
			tk, cleanup, err := openToolkit()
			if err != nil {
				return err
			}
			defer cleanup()

			connector, err := tk.services.connectors.Create(cmd.Context(), services.CreateConnectorParams{
				Name:           name,
				FederationCode: code,
				Credentials:    vault.APIKeyCredentials{Key: apiKey, Header: keyHdr},
				Endpoints: domain.Endpoints{
					MembershipListURL: listURL,
					MemberDetailURL:   detail,
					WebhookSecret:     secret,
				},
				SyncConfig: domain.SyncConfig{Enabled: true, Schedule: schedule},
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created connector %s (%s)\n", connector.ID, connector.FederationCode)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&code, "code", "", "federation code")
	cmd.Flags().StringVar(&listURL, "membership-url", "", "membership list endpoint")
	cmd.Flags().StringVar(&detail, "detail-url", "", "member detail endpoint with {id} placeholder")
	cmd.Flags().StringVar(&secret, "webhook-secret", "", "inbound webhook HMAC secret")
	cmd.Flags().StringVar(&schedule, "schedule", "", "five-field cron schedule")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "federation API key")
	cmd.Flags().StringVar(&keyHdr, "api-key-header", "", "API key header name")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("code")
	_ = cmd.MarkFlagRequired("membership-url")
	_ = cmd.MarkFlagRequired("api-key")
	return cmd
}

func connectorTestCmd() *cobra.Command {
	var orgID string
	cmd := &cobra.Command{
		Use:   "test <connector-id>",
		Short: "Probe the federation API with stored credentials",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tk, cleanup, err := openToolkit()
			if err != nil {
				return err
			}
			defer cleanup()

			if err := tk.services.connectors.TestConnection(cmd.Context(), args[0], orgID); err != nil {
				return fmt.Errorf("connection test failed: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "connection ok")
			return nil
		},
	}
	cmd.Flags().StringVar(&orgID, "org", "", "organization id")
	_ = cmd.MarkFlagRequired("org")
	return cmd
}

func syncCmd() *cobra.Command {
	var (
		orgID       string
		initiatedBy string
	)
	cmd := &cobra.Command{
		Use:   "sync <connector-id>",
		Short: "Run one sync now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tk, cleanup, err := openToolkit()
			if err != nil {
				return err
			}
			defer cleanup()

			entry, err := tk.services.orchestrator.Sync(cmd.Context(), args[0], orgID, domain.TriggerManual, initiatedBy)
			if err != nil {
				if entry != nil {
					printRun(cmd, entry)
				}
				return err
			}
			printRun(cmd, entry)
			return nil
		},
	}
	cmd.Flags().StringVar(&orgID, "org", "", "organization id")
	cmd.Flags().StringVar(&initiatedBy, "initiated-by", "operator", "who triggered the run")
	_ = cmd.MarkFlagRequired("org")
	return cmd
}

func recoverCmd() *cobra.Command {
	var orgID string
	cmd := &cobra.Command{
		Use:   "recover <connector-id>",
		Short: "Reset a tripped connector and run a sync",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tk, cleanup, err := openToolkit()
			if err != nil {
				return err
			}
			defer cleanup()

			entry, err := tk.services.recovery.Recover(cmd.Context(), args[0], orgID, "operator")
			if err != nil {
				if entry != nil {
					printRun(cmd, entry)
				}
				return err
			}
			printRun(cmd, entry)
			return nil
		},
	}
	cmd.Flags().StringVar(&orgID, "org", "", "organization id")
	_ = cmd.MarkFlagRequired("org")
	return cmd
}

func historyCmd() *cobra.Command {
	var (
		connectorID string
		orgID       string
		limit       int
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent sync runs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			tk, cleanup, err := openToolkit()
			if err != nil {
				return err
			}
			defer cleanup()

			entries, err := tk.services.analytics.History(cmd.Context(), orgID, connectorID, limit)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "STARTED\tCONNECTOR\tORG\tTRIGGER\tOUTCOME\tRATE\tROWS")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%.0f%%\t%d\n",
					e.StartedAt.Format(time.RFC3339), e.ConnectorID, e.OrganizationID,
					e.Trigger, e.Outcome, e.SuccessRate*100, e.Stats.TotalRows)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&connectorID, "connector", "", "filter by connector id")
	cmd.Flags().StringVar(&orgID, "org", "", "filter by organization id")
	cmd.Flags().IntVar(&limit, "limit", 20, "max entries")
	return cmd
}

func printRun(cmd *cobra.Command, entry *domain.SyncHistoryEntry) {
	fmt.Fprintf(cmd.OutOrStdout(),
		"session %s outcome=%s rate=%.0f%% total=%d valid=%d created=%d updated=%d skipped=%d duration=%s\n",
		entry.ImportSessionID, entry.Outcome, entry.SuccessRate*100,
		entry.Stats.TotalRows, entry.Stats.ValidRows,
		entry.Stats.PlayersCreated, entry.Stats.PlayersUpdated, entry.Stats.PlayersSkipped,
		entry.Duration())
}

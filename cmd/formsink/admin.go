package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/formsink/formsink/internal/bus"
	"github.com/formsink/formsink/internal/config"
	"github.com/formsink/formsink/internal/models"
	"github.com/formsink/formsink/internal/orchestrator"
	"github.com/formsink/formsink/internal/persist"
	"github.com/formsink/formsink/internal/replay"
	"github.com/formsink/formsink/internal/storage"
)

func tenantCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage tenants",
	}

	var name string
	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a tenant and print its signing secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, cleanup, err := storeFromConfig(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			now := time.Now().UTC()
			t := &models.Tenant{
				ID:        models.NewID("tnt"),
				Name:      name,
				Secret:    models.NewSecret(),
				Status:    models.TenantActive,
				CreatedAt: now,
				UpdatedAt: now,
			}
			if err := store.CreateTenant(context.Background(), t); err != nil {
				return fmt.Errorf("failed to create tenant: %w", err)
			}

			fmt.Printf("Tenant created\n")
			fmt.Printf("  ID:     %s\n", t.ID)
			fmt.Printf("  Name:   %s\n", t.Name)
			fmt.Printf("  Secret: %s\n", t.Secret)
			fmt.Println("Store the secret now; it is not shown again.")
			return nil
		},
	}
	createCmd.Flags().StringVar(&name, "name", "", "tenant name")
	createCmd.MarkFlagRequired("name")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List tenants",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, cleanup, err := storeFromConfig(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			tenants, err := store.ListTenants(context.Background())
			if err != nil {
				return fmt.Errorf("failed to list tenants: %w", err)
			}

			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tSTATUS\tCREATED")
			for _, t := range tenants {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", t.ID, t.Name, t.Status, t.CreatedAt.Format(time.RFC3339))
			}
			return tw.Flush()
		},
	}

	rotateCmd := &cobra.Command{
		Use:   "rotate-secret <tenant-id>",
		Short: "Rotate a tenant's signing secret",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, cleanup, err := storeFromConfig(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			secret := models.NewSecret()
			if err := store.UpdateTenantSecret(context.Background(), args[0], secret); err != nil {
				return fmt.Errorf("failed to rotate secret: %w", err)
			}
			fmt.Printf("New secret for %s: %s\n", args[0], secret)
			fmt.Println("Old signatures stop verifying once running gateways refresh their cache.")
			return nil
		},
	}

	cmd.AddCommand(createCmd, listCmd,
		tenantStatusCmd(configPath, "suspend", models.TenantSuspended),
		tenantStatusCmd(configPath, "activate", models.TenantActive),
		rotateCmd)
	return cmd
}

func tenantStatusCmd(configPath *string, verb string, status models.TenantStatus) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <tenant-id>",
		Short: verb + " a tenant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, cleanup, err := storeFromConfig(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := store.SetTenantStatus(context.Background(), args[0], status); err != nil {
				return fmt.Errorf("failed to %s tenant: %w", verb, err)
			}
			fmt.Printf("Tenant %s is now %s\n", args[0], status)
			return nil
		},
	}
}

func destinationCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "destination",
		Short: "Manage delivery destinations",
	}

	var (
		tenantID    string
		url         string
		protocol    string
		secret      string
		maxAttempts int
	)
	addCmd := &cobra.Command{
		Use:   "add",
		Short: "Add a destination for a tenant",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, cleanup, err := storeFromConfig(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			tenant, err := store.GetTenant(context.Background(), tenantID)
			if err != nil {
				return fmt.Errorf("failed to look up tenant: %w", err)
			}
			if tenant == nil {
				return fmt.Errorf("tenant %s not found", tenantID)
			}

			now := time.Now().UTC()
			d := &models.Destination{
				ID:          models.NewID("dst"),
				TenantID:    tenantID,
				Protocol:    protocol,
				URL:         url,
				Secret:      secret,
				Enabled:     true,
				MaxAttempts: maxAttempts,
				CreatedAt:   now,
				UpdatedAt:   now,
			}
			if err := store.CreateDestination(context.Background(), d); err != nil {
				return fmt.Errorf("failed to create destination: %w", err)
			}
			fmt.Printf("Destination created: %s -> %s\n", d.ID, d.URL)
			return nil
		},
	}
	addCmd.Flags().StringVar(&tenantID, "tenant", "", "owning tenant id")
	addCmd.Flags().StringVar(&url, "url", "", "destination URL")
	addCmd.Flags().StringVar(&protocol, "protocol", models.ProtocolWebhook, "delivery protocol")
	addCmd.Flags().StringVar(&secret, "secret", "", "per-destination signing secret")
	addCmd.Flags().IntVar(&maxAttempts, "max-attempts", 0, "retry budget override (0 = global default)")
	addCmd.MarkFlagRequired("tenant")
	addCmd.MarkFlagRequired("url")

	var listTenant string
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List a tenant's destinations",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, cleanup, err := storeFromConfig(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			dests, err := store.ListDestinations(context.Background(), listTenant)
			if err != nil {
				return fmt.Errorf("failed to list destinations: %w", err)
			}

			tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tPROTOCOL\tURL\tENABLED\tMAX_ATTEMPTS")
			for _, d := range dests {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%d\n", d.ID, d.Protocol, d.URL, d.Enabled, d.MaxAttempts)
			}
			return tw.Flush()
		},
	}
	listCmd.Flags().StringVar(&listTenant, "tenant", "", "owning tenant id")
	listCmd.MarkFlagRequired("tenant")

	cmd.AddCommand(addCmd, listCmd,
		destinationEnableCmd(configPath, "enable", true),
		destinationEnableCmd(configPath, "disable", false))
	return cmd
}

func destinationEnableCmd(configPath *string, verb string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <destination-id>",
		Short: verb + " a destination",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, cleanup, err := storeFromConfig(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := store.SetDestinationEnabled(context.Background(), args[0], enabled); err != nil {
				return fmt.Errorf("failed to %s destination: %w", verb, err)
			}
			fmt.Printf("Destination %s %sd\n", args[0], verb)
			return nil
		},
	}
}

func replayCmd(configPath *string) *cobra.Command {
	var (
		from      string
		to        string
		tenantID  string
		eventType string
	)
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Re-publish archived events through the pipeline",
		Long: "Re-publish archived events matching the filter. Consumers run in-process;\n" +
			"fan-out rows created here are picked up by a running serve instance.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			log := setupLogger(cfg.Logging)

			store, err := setupStorage(cfg.Storage, log)
			if err != nil {
				return fmt.Errorf("failed to setup storage: %w", err)
			}
			defer store.Close()
			if err := store.Migrate(context.Background()); err != nil {
				return fmt.Errorf("failed to run migrations: %w", err)
			}

			filter, err := buildReplayFilter(from, to, tenantID, eventType)
			if err != nil {
				return err
			}

			eventBus := bus.NewMemory(bus.MemoryOptions{}, store, store, log)
			defer eventBus.Close()

			writer := persist.NewWriter(store, log)
			if err := writer.Register(eventBus); err != nil {
				return fmt.Errorf("failed to register persistence writer: %w", err)
			}
			orch := orchestrator.New(store, cfg.Delivery.DestinationCacheTTL, log)
			if err := orch.Register(eventBus); err != nil {
				return fmt.Errorf("failed to register delivery orchestrator: %w", err)
			}

			mgr := replay.NewManager(store, eventBus, log)
			published, err := mgr.Replay(context.Background(), filter)
			if err != nil {
				return err
			}

			// Close drains the consumer queues before we report.
			eventBus.Close()
			fmt.Printf("Replayed %d events\n", published)
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "start of window (RFC3339)")
	cmd.Flags().StringVar(&to, "to", "", "end of window (RFC3339)")
	cmd.Flags().StringVar(&tenantID, "tenant", "", "restrict to one tenant")
	cmd.Flags().StringVar(&eventType, "event-type", "", "restrict to one event type")
	cmd.MarkFlagRequired("from")
	cmd.MarkFlagRequired("to")
	return cmd
}

func buildReplayFilter(from, to, tenantID, eventType string) (storage.ReplayFilter, error) {
	fromTs, err := time.Parse(time.RFC3339, from)
	if err != nil {
		return storage.ReplayFilter{}, fmt.Errorf("invalid --from: %w", err)
	}
	toTs, err := time.Parse(time.RFC3339, to)
	if err != nil {
		return storage.ReplayFilter{}, fmt.Errorf("invalid --to: %w", err)
	}
	if toTs.Before(fromTs) {
		return storage.ReplayFilter{}, fmt.Errorf("--to is before --from")
	}
	return storage.ReplayFilter{
		From:      fromTs,
		To:        toTs,
		TenantID:  tenantID,
		EventType: eventType,
	}, nil
}

func statsCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "stats <tenant-id>",
		Short: "Show delivery statistics for a tenant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, cleanup, err := storeFromConfig(*configPath)
			if err != nil {
				return err
			}
			defer cleanup()

			stats, err := store.GetStats(context.Background(), args[0])
			if err != nil {
				return fmt.Errorf("failed to get stats: %w", err)
			}

			out, err := json.MarshalIndent(stats, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(out))
			return nil
		},
	}
}

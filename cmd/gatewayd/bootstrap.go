package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/SomaPrasanth/command-gateway-backend/internal/domain"
	"github.com/SomaPrasanth/command-gateway-backend/internal/gateway"
	"github.com/SomaPrasanth/command-gateway-backend/internal/rules"
	"github.com/SomaPrasanth/command-gateway-backend/internal/store"
)

func bootstrapCmd() *cobra.Command {
	var (
		username  string
		rulesFile string
		forceNew  bool
	)

	cmd := &cobra.Command{
		Use:   "bootstrap",
		Short: "Create the first admin account (and optionally seed rules)",
		Long:  "Creates an admin account directly against the store and prints its API key once. Every other account is provisioned through the API by an admin.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			setLogLevel(cfg.General.LogLevel)

			st, err := store.NewSQLiteStore(cfg.Database.Path, logger)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer st.Close()

			ctx := context.Background()

			exists, err := st.AdminExists(ctx)
			if err != nil {
				return err
			}
			if exists && !forceNew {
				return fmt.Errorf("an admin account already exists (use --force-new to add another)")
			}

			account, err := gateway.Provision(ctx, st, username, domain.RoleAdmin)
			if err != nil {
				return err
			}

			fmt.Printf("Admin account created: %s (credits: %d)\n", account.Username, account.Credits)
			fmt.Printf("API key (shown once, store it now): %s\n", account.APIKey)

			if rulesFile != "" {
				n, err := importRules(ctx, st, rulesFile)
				if err != nil {
					return err
				}
				fmt.Printf("Seeded %d rules from %s\n", n, rulesFile)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&username, "username", "admin", "username for the admin account")
	cmd.Flags().StringVar(&rulesFile, "rules", "", "optional YAML rule seed file")
	cmd.Flags().BoolVar(&forceNew, "force-new", false, "create the admin even if one already exists")
	return cmd
}

func rulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Manage the rule store from the command line",
	}
	cmd.AddCommand(rulesImportCmd())
	return cmd
}

func rulesImportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import FILE",
		Short: "Import rules from a YAML seed file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			setLogLevel(cfg.General.LogLevel)

			st, err := store.NewSQLiteStore(cfg.Database.Path, logger)
			if err != nil {
				return fmt.Errorf("open store: %w", err)
			}
			defer st.Close()

			n, err := importRules(context.Background(), st, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Imported %d rules from %s\n", n, args[0])
			return nil
		},
	}
}

// importRules inserts seed rules in file order so earlier entries get lower
// IDs, i.e. higher priority.
func importRules(ctx context.Context, st domain.Store, path string) (int, error) {
	seed, err := rules.LoadSeedFile(path)
	if err != nil {
		return 0, err
	}
	for _, r := range seed {
		if _, err := st.CreateRule(ctx, r.Pattern, r.Action, r.Description); err != nil {
			return 0, fmt.Errorf("insert rule %q: %w", r.Pattern, err)
		}
	}
	return len(seed), nil
}

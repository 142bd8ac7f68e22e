package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/docsift/docsift/internal/config"
	"github.com/docsift/docsift/internal/platform"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Verify credentials and save them for later runs",
	Long: `Login verifies the org name, base URL, and API token against the
platform with a trivial query, then saves them to ~/.docsift/credentials.yaml
so later commands can run without flags.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if orgName == "" || apiToken == "" {
			return fmt.Errorf("--org and --api-token are required")
		}
		base := baseURL
		if base == "" {
			base = platform.DefaultBaseURL
		}

		client, err := platform.NewClient(platform.Config{
			BaseURL:  base,
			OrgName:  orgName,
			APIToken: apiToken,
			Logger:   slog.Default(),
		})
		if err != nil {
			return err
		}
		if err := client.Ping(cmd.Context()); err != nil {
			return fmt.Errorf("credential check failed: %w", err)
		}

		d, err := homeDirs()
		if err != nil {
			return err
		}
		if err := d.EnsureExists(); err != nil {
			return err
		}
		store := config.NewCredentialStore(d.CredentialsPath())
		if err := store.Save(config.Credential{
			Org:      orgName,
			BaseURL:  base,
			APIToken: apiToken,
		}); err != nil {
			return err
		}
		slog.Info("credentials saved", "org", orgName, "path", d.CredentialsPath())
		return nil
	},
}

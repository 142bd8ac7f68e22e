package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/docsift/docsift/internal/config"
	"github.com/docsift/docsift/internal/home"
	"github.com/docsift/docsift/internal/output"
	"github.com/docsift/docsift/internal/platform"
	"github.com/docsift/docsift/version"
)

var (
	cfgFile      string
	homeDir      string
	outputFormat string
	verbose      bool

	orgName  string
	baseURL  string
	apiToken string
)

var rootCmd = &cobra.Command{
	Use:   "docsift",
	Short: "Sync labeled documents with a document-intelligence collection",
	Long: `Docsift pushes locally-labeled document sets into a collection and
pulls collections back down as local document sets.

A document set is a directory with a manifest.json describing the field
schema and, per document, the ground-truth record. Syncing uploads the
documents, anchors each labeled value to the OCR words and entities the
platform extracted, reconciles the field schema, and applies the labels
in batches. Snapshotting is the inverse: it decodes a collection's
confirmed labels back into a manifest.`,
	Version: version.GitRelease,
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile, "config", "", "config file (default: ./config.yaml or ~/.docsift/config.yaml)",
	)
	rootCmd.PersistentFlags().StringVar(
		&homeDir, "home", "", "docsift home directory (default: ~/.docsift)",
	)
	rootCmd.PersistentFlags().StringVarP(
		&outputFormat, "output", "o", "yaml", "output format: yaml or json",
	)
	rootCmd.PersistentFlags().BoolVarP(
		&verbose, "verbose", "v", false, "enable debug logging",
	)
	rootCmd.PersistentFlags().StringVar(
		&orgName, "org", "", "platform org name",
	)
	rootCmd.PersistentFlags().StringVar(
		&baseURL, "base-url", "", "platform base URL",
	)
	rootCmd.PersistentFlags().StringVar(
		&apiToken, "api-token", "", "platform API token",
	)

	// Set output format and logging before any command runs
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		output.SetFormat(outputFormat)
		level := slog.LevelInfo
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: level,
		})))
	}

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(snapshotCmd)
}

// homeDirs resolves the home directory layout, honoring --home.
func homeDirs() (*home.Dir, error) {
	return home.New(homeDir)
}

// loadConfig loads file, environment, and default configuration.
func loadConfig() (*config.Config, error) {
	cm, err := config.NewManager(cfgFile)
	if err != nil {
		return nil, err
	}
	return cm.Get(), nil
}

// resolveOrg merges flags over config to produce the org coordinates.
// The token falls back to saved credentials when nothing else names one.
func resolveOrg() (config.OrgCfg, error) {
	cfg, err := loadConfig()
	if err != nil {
		return config.OrgCfg{}, err
	}
	org := cfg.Org
	if orgName != "" {
		org.Name = orgName
	}
	if baseURL != "" {
		org.BaseURL = baseURL
	}
	if org.BaseURL == "" {
		org.BaseURL = platform.DefaultBaseURL
	}
	if apiToken != "" {
		org.APIToken = apiToken
	} else {
		org.APIToken = config.ResolveEnvVars(org.APIToken)
	}

	if org.APIToken == "" {
		d, err := homeDirs()
		if err != nil {
			return config.OrgCfg{}, err
		}
		cred, err := config.NewCredentialStore(d.CredentialsPath()).Find(org.Name, org.BaseURL)
		if err != nil {
			return config.OrgCfg{}, fmt.Errorf("no API token configured and %w (run `docsift login`)", err)
		}
		org.Name = cred.Org
		org.APIToken = cred.APIToken
	}
	return org, nil
}

// newPlatformClient builds a client from flags, config, and saved
// credentials.
func newPlatformClient() (*platform.Client, error) {
	org, err := resolveOrg()
	if err != nil {
		return nil, err
	}
	return platform.NewClient(platform.Config{
		BaseURL:  org.BaseURL,
		OrgName:  org.Name,
		APIToken: org.APIToken,
		Logger:   slog.Default(),
	})
}

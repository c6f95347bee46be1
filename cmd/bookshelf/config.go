package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/vinayprograms/bookshelf/agents"
	"github.com/vinayprograms/bookshelf/config"
	"github.com/vinayprograms/bookshelf/credentials"
)

var configFlags struct {
	path bool
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Long: `Print the configuration after defaults and the config file are merged,
followed by where the provider API key would be read from.

Examples:
  # Show the effective configuration
  bookshelf config

  # Start a config file from the defaults
  bookshelf config > ~/.config/bookshelf/bookshelf.toml

  # Show which file is read
  bookshelf config --path`,
	RunE: runConfig,
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.Flags().BoolVar(&configFlags.path, "path", false, "print the config file path only")
}

func runConfig(cmd *cobra.Command, _ []string) error {
	out := cmd.OutOrStdout()
	if configFlags.path {
		path := cfgFile
		if path == "" {
			path = config.DefaultPath()
		}
		fmt.Fprintln(out, path)
		return nil
	}

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if err := config.Print(cfg, out); err != nil {
		return err
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, "# models:", agents.ModelDeepSeekR1+",", agents.ModelLlama33+",", agents.ModelGemma2)
	creds, err := credentials.Load()
	if err != nil {
		fmt.Fprintf(out, "# api key: %v\n", err)
		return nil
	}
	_, source := creds.Lookup(cfg.Provider.Name)
	fmt.Fprintf(out, "# api key source for %s: %s\n", cfg.Provider.Name, source)
	return nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/yourorg/capgen/internal/config"
	"github.com/yourorg/capgen/internal/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type rootFlags struct {
	cfgPath string
	envFile string
	verbose bool
	quiet   bool
}

func newRootCmd() *cobra.Command {
	flags := &rootFlags{}
	root := &cobra.Command{
		Use:           "capgen",
		Short:         "Constraint-aware utterance generation for API tool datasets",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return config.LoadDotEnv(flags.envFile)
		},
	}

	root.PersistentFlags().StringVar(&flags.cfgPath, "config", "", "config file path (default ~/.capgen/config.yaml)")
	root.PersistentFlags().StringVar(&flags.envFile, "env-file", ".env", "dotenv file loaded before the config")
	root.PersistentFlags().BoolVar(&flags.verbose, "verbose", false, "enable debug logging")
	root.PersistentFlags().BoolVar(&flags.quiet, "quiet", false, "hide progress bars")

	root.AddCommand(newInitCmd(flags))
	root.AddCommand(newSelectCmd(flags))
	root.AddCommand(newExtractCmd(flags))
	root.AddCommand(newGenerateCmd(flags))
	root.AddCommand(newCheckCmd(flags))
	root.AddCommand(newEvaluateCmd(flags))
	root.AddCommand(newExportCmd(flags))
	root.AddCommand(newServeCmd(flags))
	root.AddCommand(newRunsCmd(flags))

	return root
}

func newInitCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write the default config and create the ledger database",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgFile := flags.cfgPath
			if cfgFile == "" {
				p, err := config.DefaultPath()
				if err != nil {
					return err
				}
				cfgFile = p
			}
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			if _, err := os.Stat(cfgFile); errors.Is(err, os.ErrNotExist) {
				saved := *cfg
				saved.LLM.APIKey = ""
				if err := saved.Save(cfgFile); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "created", cfgFile)
			} else if err == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "exists", cfgFile)
			} else {
				return err
			}

			if err := os.MkdirAll(filepath.Dir(cfg.Data.DBPath), 0o755); err != nil {
				return err
			}
			s, err := store.NewSQLiteStore(cfg.Data.DBPath)
			if err != nil {
				return err
			}
			defer s.Close()
			fmt.Fprintln(cmd.OutOrStdout(), "database ready", cfg.Data.DBPath)
			if cfg.LLM.APIKey == "" {
				fmt.Fprintln(cmd.OutOrStdout(), "set llm.api_key in", cfgFile, "or OPENAI_API_KEY in .env")
			}
			return nil
		},
	}
}

// Package app provides the guacauth command-line application.
package app

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jeremyhahn/go-workspace-auth/pkg/config"
)

// Version is set at build time.
var Version = "dev"

// NewRootCmd creates the root command. Each call gets its own viper
// instance; flags override the environment.
func NewRootCmd() *cobra.Command {
	v := viper.New()

	root := &cobra.Command{
		Use:           "guacauth",
		Short:         "Workspace-scoped authentication for the remote-desktop gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	flags := root.PersistentFlags()
	flags.String("mode", "", "Authentication mode: header-injected or redirect-flow")
	flags.String("log-level", "", "Log level (debug, info, warn, error)")
	flags.Bool("unstructured-logs", false, "Write text logs instead of JSON")
	bindFlag(v, "AUTH_MODE", root, "mode")
	bindFlag(v, "LOG_LEVEL", root, "log-level")
	bindFlag(v, "UNSTRUCTURED_LOGS", root, "unstructured-logs")

	root.AddCommand(newServeCmd(v))
	root.AddCommand(newValidateCmd(v))
	root.AddCommand(newVersionCmd())

	return root
}

func bindFlag(v *viper.Viper, key string, cmd *cobra.Command, name string) {
	if err := v.BindPFlag(key, cmd.PersistentFlags().Lookup(name)); err != nil {
		panic(fmt.Sprintf("binding flag %s: %v", name, err))
	}
}

func newValidateCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration and print the effective settings",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "mode: %s\n", cfg.Mode)
			fmt.Fprintf(out, "shared service: %t\n", cfg.SharedServiceMode())
			fmt.Fprintf(out, "listen: %s\n", cfg.ListenAddr)
			fmt.Fprintf(out, "control plane: %s\n", cfg.ControlPlaneURL)
			fmt.Fprintf(out, "token endpoint: %s\n", cfg.TokenEndpoint)
			fmt.Fprintf(out, "redirect uri: %s\n", cfg.RedirectURI)
			fmt.Fprintf(out, "secure cookies: %t\n", cfg.CookiesSecure())
			fmt.Fprintf(out, "sessions: %s\n", sessionBackend(cfg))
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "guacauth %s\n", Version)
		},
	}
}

func sessionBackend(cfg *config.Config) string {
	if cfg.Redis.Addr != "" {
		return "redis " + cfg.Redis.Addr
	}
	return "memory"
}

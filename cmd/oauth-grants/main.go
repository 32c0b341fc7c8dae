// Command oauth-grants runs the OAuth2 grant engine as an HTTP server.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func newRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "oauth-grants",
		Short:         "OAuth2 authorization server grant engine",
		Long:          `oauth-grants issues authorization codes and access tokens for the authorization_code, client_credentials and refresh_token grants.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "conf", os.Getenv("OAUTH_GRANTS_CONFIG"), "path to configuration file")

	rootCmd.AddCommand(
		newServeCmd(&configPath),
		newRegisterClientCmd(&configPath),
		newListClientsCmd(&configPath),
		newDeleteClientCmd(&configPath),
		newHashSecretCmd(),
		newVersionCmd(),
	)
	return rootCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number of oauth-grants",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "oauth-grants version %s\n", version)
		},
	}
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

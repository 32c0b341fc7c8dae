package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/oauth2"

	"github.com/giantswarm/oauth-grants/internal/backend"
	"github.com/giantswarm/oauth-grants/internal/config"
	"github.com/giantswarm/oauth-grants/server"
)

func newHashSecretCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-secret [secret]",
		Short: "Print the bcrypt hash of a client secret for the clients section of the configuration",
		Long:  `Print the bcrypt hash of a client secret. Without an argument a random secret is generated and printed together with its hash.`,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := ""
			if len(args) == 1 {
				secret = args[0]
			} else {
				secret = oauth2.GenerateVerifier()
				fmt.Fprintf(cmd.OutOrStdout(), "secret: %s\n", secret)
			}

			hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
			if err != nil {
				return fmt.Errorf("hash secret: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "hash: %s\n", hash)
			return nil
		},
	}
}

func newRegisterClientCmd(configPath *string) *cobra.Command {
	var reg server.ClientRegistration

	cmd := &cobra.Command{
		Use:   "register-client",
		Short: "Register a client in the configured storage and print its credentials",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadPersistent(*configPath, cmd.Name())
			if err != nil {
				return err
			}

			grants, closeBackend, err := openGrants(cfg)
			if err != nil {
				return err
			}
			defer closeBackend()

			client, secret, err := grants.RegisterClient(cmd.Context(), reg)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "client_id: %s\n", client.ClientID)
			fmt.Fprintf(out, "client_type: %s\n", client.ClientType)
			if secret != "" {
				fmt.Fprintf(out, "client_secret: %s\n", secret)
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&reg.ClientID, "client-id", "", "client id (generated when empty)")
	flags.StringVar(&reg.ClientName, "name", "", "human readable client name")
	flags.StringVar(&reg.ClientType, "type", "confidential", "client type: confidential or public")
	flags.StringSliceVar(&reg.RedirectURIs, "redirect-uri", nil, "registered redirect URI; the first is the default (repeatable)")
	flags.StringSliceVar(&reg.GrantTypes, "grant-type", nil, "allowed grant type (repeatable, default all)")
	flags.StringSliceVar(&reg.Scopes, "scope", nil, "allowed scope (repeatable, default any)")
	return cmd
}

func newDeleteClientCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "delete-client <client-id>",
		Short: "Remove a client from the configured storage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadPersistent(*configPath, cmd.Name())
			if err != nil {
				return err
			}

			grants, closeBackend, err := openGrants(cfg)
			if err != nil {
				return err
			}
			defer closeBackend()

			if err := grants.DeleteClient(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted client %s\n", args[0])
			return nil
		},
	}
}

func newListClientsCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list-clients",
		Short: "List the clients in the configured storage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadPersistent(*configPath, cmd.Name())
			if err != nil {
				return err
			}

			grants, closeBackend, err := openGrants(cfg)
			if err != nil {
				return err
			}
			defer closeBackend()

			clients, err := grants.ListClients(cmd.Context())
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "CLIENT ID\tTYPE\tNAME\tREDIRECT URIS")
			for _, c := range clients {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", c.ClientID, c.ClientType, c.ClientName, strings.Join(c.RedirectURIs, ","))
			}
			return w.Flush()
		},
	}
}

// loadPersistent loads the configuration for a command that manages clients. The memory
// backend is rejected because its contents would not outlive the command.
func loadPersistent(path, command string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if cfg.Storage.Type == config.StorageMemory {
		return nil, fmt.Errorf("%s needs persistent storage; configure the redis or sql backend", command)
	}
	return cfg, nil
}

// openGrants opens the configured backend and a grant engine on top of it
func openGrants(cfg *config.Config) (*server.Server, func(), error) {
	logger := cfg.Logger.NewLogger()
	b, err := backend.Open(cfg.Storage, logger)
	if err != nil {
		return nil, nil, err
	}

	grants, err := server.NewWithStore(b, cfg.Grants.ServerConfig(), logger)
	if err != nil {
		_ = b.Close()
		return nil, nil, err
	}
	return grants, func() { _ = b.Close() }, nil
}

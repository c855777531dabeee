package app

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"dicomweb-oauth/internal/common/logging"
)

type rootOptions struct {
	configPath  string
	metricsAddr string
}

// NewRootCommand builds the dicomweb-oauth command tree
func NewRootCommand(version string) *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "dicomweb-oauth",
		Short: "Acquire and cache OAuth2 tokens for DICOMweb servers",
		Long: `dicomweb-oauth manages OAuth2 client-credentials tokens for the DICOMweb
servers listed in its configuration file. Tokens are cached, refreshed
before they expire and protected by per-server circuit breakers, retries
and rate limits.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "",
		"server configuration file (default $DICOMWEB_OAUTH_CONFIG or ./dicomweb-oauth.yaml)")

	root.AddCommand(
		newTokenCmd(opts),
		newTestCmd(opts),
		newStatusCmd(opts),
		newServersCmd(opts),
		newWatchCmd(opts),
	)
	return root
}

// withApp bootstraps an App for the duration of fn
func withApp(opts *rootOptions, fn func(app *App) error) error {
	app, err := bootstrap(opts)
	if err != nil {
		return err
	}
	defer app.Cleanup()
	return fn(app)
}

func newTokenCmd(opts *rootOptions) *cobra.Command {
	var header, force bool

	cmd := &cobra.Command{
		Use:   "token <server>",
		Short: "Print a valid access token for a server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, func(app *App) error {
				tok, err := app.Manager.GetTokenDetails(cmd.Context(), args[0], force)
				if err != nil {
					return err
				}
				if header {
					fmt.Fprintln(cmd.OutOrStdout(), tok.AuthorizationHeader())
					return nil
				}
				fmt.Fprintln(cmd.OutOrStdout(), tok.AccessToken)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&header, "header", false, "print the Authorization header value instead of the bare token")
	cmd.Flags().BoolVar(&force, "force", false, "ignore the cache and acquire a new token")
	return cmd
}

func newTestCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "test <server>",
		Short: "Check that a fresh token can be acquired for a server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(opts, func(app *App) error {
				ok, elapsed, err := app.Manager.TestConnectivity(cmd.Context(), args[0])
				if !ok {
					fmt.Fprintf(cmd.OutOrStdout(), "%s: FAILED after %s\n", args[0], elapsed.Round(time.Millisecond))
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s: OK in %s\n", args[0], elapsed.Round(time.Millisecond))
				return nil
			})
		},
	}
}

func newStatusCmd(opts *rootOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show cache, breaker and acquisition state of every server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(opts, func(app *App) error {
				snaps := app.Manager.Snapshots(cmd.Context())
				if asJSON {
					enc := json.NewEncoder(cmd.OutOrStdout())
					enc.SetIndent("", "  ")
					return enc.Encode(snaps)
				}

				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "SERVER\tPROVIDER\tCIRCUIT\tCACHED\tEXPIRES\tHITS\tMISSES\tFAILURES\tLAST ERROR")
				for _, s := range snaps {
					expires := "-"
					if s.TokenCached {
						expires = s.TokenExpiresAt.Format(time.RFC3339)
					}
					lastErr := "-"
					if s.LastErrorCode != "" {
						lastErr = fmt.Sprintf("%s (%s)", s.LastErrorCode, s.LastErrorCategory)
					}
					fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\t%d\t%d\t%d\t%s\n",
						s.Server, s.Provider, s.Circuit.StateName, s.TokenCached, expires,
						s.CacheHits, s.CacheMisses, s.Failures, lastErr)
				}
				return w.Flush()
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print snapshots as JSON")
	return cmd
}

func newServersCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "servers",
		Short: "List configured servers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(opts, func(app *App) error {
				w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(w, "SERVER\tPROVIDER\tURL\tCLIENT ID")
				for _, name := range app.Manager.Servers() {
					cred, err := app.Manager.Credential(name)
					if err != nil {
						return err
					}
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", cred.Name, cred.ProviderType, cred.URL, cred.ClientID)
				}
				return w.Flush()
			})
		},
	}
}

func newWatchCmd(opts *rootOptions) *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Keep tokens warm until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if interval <= 0 {
				return fmt.Errorf("--interval must be positive")
			}
			return withApp(opts, func(app *App) error {
				ctx, stop := signalContext(cmd.Context())
				defer stop()

				if opts.metricsAddr != "" {
					if err := app.serveDiagnostics(ctx, opts.metricsAddr); err != nil {
						return err
					}
				}

				app.Logger.Info("Watching servers",
					logging.Int("servers", len(app.Manager.Servers())),
					logging.Duration("interval", interval))
				app.Watch(ctx, interval)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", 30*time.Second, "how often to check every server's token")
	cmd.Flags().StringVar(&opts.metricsAddr, "metrics-addr", "", "serve /metrics, /status and /healthz on this address")
	return cmd
}

package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/conduit-lang/waterline/internal/cli/ui"
	"github.com/conduit-lang/waterline/internal/web/blueprint"
	"github.com/conduit-lang/waterline/internal/web/server"
)

// NewServeCommand creates the serve command
func NewServeCommand(flags *globalFlags) *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve REST blueprint routes for every model",
		Long: `Initialize the project's models and serve JSON routes for each of them:

  GET    /{model}        find, with where, populate, sort, limit and skip
  POST   /{model}        create
  GET    /{model}/{id}   findOne, with populate
  PATCH  /{model}/{id}   update attributes and collection membership
  DELETE /{model}/{id}   destroy

Records are rendered through their model's toJSON. The server shuts down on
SIGINT or SIGTERM and tears the adapters down before exiting.

Examples:
  waterline serve
  waterline serve --port 8080`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			s, err := openSession(ctx, flags.projectDir(), flags, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			// teardown is idempotent; this covers a listen failure before the hooks run
			defer s.close(context.Background())

			if port > 0 {
				s.cfg.Server.Port = port
			}

			handler := blueprint.NewRouter(s.ontology, blueprint.Options{
				Prefix: s.cfg.Server.APIPrefix,
				Logger: s.logger,
			})

			config := server.DefaultConfig(s.cfg.Server.Addr(), handler)
			config.Logger = s.logger
			srv, err := server.New(config)
			if err != nil {
				return err
			}
			srv.OnShutdown(s.close)

			go func() {
				select {
				case <-srv.Ready():
					ui.WriteSuccess(cmd.OutOrStdout(),
						fmt.Sprintf("serving %d models on http://%s%s", len(s.ontology.Collections()), srv.Addr(), s.cfg.Server.APIPrefix),
						flags.noColor)
				case <-ctx.Done():
				}
			}()

			if err := srv.Run(ctx); err != nil {
				s.logger.Error("server stopped", zap.Error(err))
				return err
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 0, "Port to listen on (overrides server.port)")

	return cmd
}

package commands

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/qent/sona-sub000/internal/config"
	"github.com/qent/sona-sub000/internal/event"
	"github.com/qent/sona-sub000/internal/server"
	"github.com/qent/sona-sub000/pkg/types"
)

var (
	servePort     int
	serveHostname string
	serveModel    string
	serveNoWatch  bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the session over HTTP",
	Long: `Start sona as a headless server. The session, stored chats and tool
providers are exposed as a JSON API with server-sent events.

Config files are watched; edits reconnect the tool providers.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 8080, "Port to listen on")
	serveCmd.Flags().StringVar(&serveHostname, "hostname", "127.0.0.1", "Hostname to listen on")
	serveCmd.Flags().StringVarP(&serveModel, "model", "m", "", "Model to use (provider/model format)")
	serveCmd.Flags().BoolVar(&serveNoWatch, "no-watch", false, "Do not watch config files")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.startCore(ctx, serveModel); err != nil {
		return err
	}

	if !serveNoWatch {
		w, err := config.NewWatcher(config.Files(a.workDir), func() { a.reload(ctx) })
		if err != nil {
			log.Warn().Err(err).Msg("config watch disabled")
		} else {
			w.Start()
			defer w.Stop()
		}
	}

	srvConfig := server.DefaultConfig()
	srvConfig.Port = servePort
	srv := server.New(srvConfig, server.Deps{
		Conversation: a.ctrl,
		Chats:        a.chats,
		Providers:    a.manager,
		Bus:          a.bus,
	})

	ln, err := net.Listen("tcp", net.JoinHostPort(serveHostname, fmt.Sprint(servePort)))
	if err != nil {
		return err
	}

	errs := make(chan error, 1)
	go func() {
		log.Info().Str("addr", ln.Addr().String()).Str("workDir", a.workDir).Msg("server listening")
		fmt.Fprintf(cmd.OutOrStdout(), "sona listening on http://%s\n", ln.Addr())
		errs <- srv.Serve(ln)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-errs:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-quit:
	}

	log.Info().Msg("shutting down server")
	a.ctrl.Stop()
	cancel()

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown")
	}
	log.Info().Msg("server stopped")
	return nil
}

// reload re-reads the config after a file change and reconnects the tool
// providers. The model and permission settings apply on restart.
func (a *app) reload(ctx context.Context) {
	cfg, err := config.Load(a.workDir)
	if err != nil {
		log.Warn().Err(err).Msg("config reload skipped")
		return
	}
	a.config.MCP = cfg.MCP
	if err := a.manager.Reload(ctx); err != nil {
		log.Error().Err(err).Msg("reload tool providers")
		return
	}
	a.bus.Publish(event.Event{
		Type: event.ConfigReloaded,
		Data: event.ConfigReloadedData{Providers: types.SortedKeys(cfg.MCP)},
	})
	log.Info().Msg("config reloaded")
}

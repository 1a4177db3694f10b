package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/storstekarn/VibeCheck/internal/analytics"
	"github.com/storstekarn/VibeCheck/internal/app"
	"github.com/storstekarn/VibeCheck/internal/demosite"
	"github.com/storstekarn/VibeCheck/internal/logging"
	"github.com/storstekarn/VibeCheck/internal/model"
	"github.com/storstekarn/VibeCheck/internal/promptcache"
	"github.com/storstekarn/VibeCheck/internal/server"
)

func main() {
	root := &cobra.Command{
		Use:   "vibecheck",
		Short: "Automated quality-assurance scans for public websites",
	}

	root.AddCommand(serveCmd(), scanCmd(), demoCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildService wires the production service plus its analytics store.
func buildService(logger logging.Logger) (*app.Config, *app.Service, *analytics.Store, error) {
	cfg, err := app.LoadConfig()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("loading config: %w", err)
	}

	cache, err := promptcache.Open(cfg.CachePath, logger.With(logging.Field{Key: "component", Value: "promptcache"}))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("opening prompt cache: %w", err)
	}

	store, err := analytics.Open(cfg.AnalyticsPath, logger.With(logging.Field{Key: "component", Value: "analytics"}))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("opening analytics store: %w", err)
	}

	svc := app.NewDefaultService(cfg, cache, store, logger)
	return cfg, svc, store, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scan API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := logging.NewStdoutLogger("vibecheck")

			cfg, svc, store, err := buildService(logger)
			if err != nil {
				return err
			}
			defer store.Close()

			srv := server.NewServer(server.Config{
				ListenAddr:  cfg.ListenAddr,
				AdminAPIKey: cfg.AdminAPIKey,
			}, svc, store, logger.With(logging.Field{Key: "component", Value: "server"}))

			logger.Info("listening", logging.Field{Key: "addr", Value: cfg.ListenAddr})
			return srv.HTTPServer().ListenAndServe()
		},
	}
}

func scanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scan <url>",
		Short: "Run one scan and print the report as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := logging.NewStdoutLogger("vibecheck")

			_, svc, store, err := buildService(logger)
			if err != nil {
				return err
			}
			defer store.Close()

			scanID, err := svc.StartScan(args[0])
			if err != nil {
				return err
			}

			unsubscribe, err := svc.SubscribeProgress(scanID, func(ev model.ProgressEvent) {
				fmt.Fprintf(os.Stderr, "[%3d%%] %s: %s\n", ev.Progress, ev.Phase, ev.Message)
			})
			if err != nil {
				return err
			}
			defer unsubscribe()

			for {
				state, err := svc.GetReport(scanID)
				if err != nil {
					return err
				}
				switch state.Status {
				case model.ScanComplete:
					enc := json.NewEncoder(os.Stdout)
					enc.SetIndent("", "  ")
					return enc.Encode(state.Report)
				case model.ScanError:
					return fmt.Errorf("scan failed: %s", state.Error)
				}
				time.Sleep(500 * time.Millisecond)
			}
		},
	}
}

func demoCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Serve a demo site with deliberate defects to scan against",
		RunE: func(cmd *cobra.Command, args []string) error {
			return demosite.ListenAndServe(addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":9090", "listen address for the demo site")
	return cmd
}

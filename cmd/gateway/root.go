package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/vitos/brokerage_gateway/internal/infrastructure/broker"
	"github.com/vitos/brokerage_gateway/internal/web"
	"go.uber.org/zap"
)

const shutdownTimeout = 15 * time.Second

func newRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "gateway",
		Short:         "Brokerage gateway between clients, the local ledger and the broker",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config/config.yaml", "path to the YAML config file")

	withApp := func(run func(cmd *cobra.Command, app *App) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			app, err := newApp(configPath)
			if err != nil {
				return err
			}
			defer app.Close()
			return run(cmd, app)
		}
	}

	rootCmd.AddCommand(
		newServeCmd(withApp),
		newSyncPositionsCmd(withApp),
		newRecoverOrphansCmd(withApp),
		newMigrateCmd(withApp),
	)
	return rootCmd
}

type appRunner func(run func(cmd *cobra.Command, app *App) error) func(*cobra.Command, []string) error

func newServeCmd(withApp appRunner) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long:  "Run the HTTP API. When broker.stream_url is set, broker trade updates trigger order syncs.",
		RunE: withApp(func(cmd *cobra.Command, app *App) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if url := app.Config.Broker.StreamURL; url != "" {
				stream := broker.NewTradeStream(url, app.Config.Broker.APIKey, app.Config.Broker.APISecret, app.Logger)
				stream.OnTradeUpdate(func(u broker.TradeUpdate) {
					syncCtx, cancel := context.WithTimeout(ctx, app.Config.Broker.Timeout)
					defer cancel()
					if _, err := app.Orders.SyncByExternalID(syncCtx, u.ExternalID); err != nil {
						app.Logger.Warn("Stream-triggered sync failed",
							zap.String("event", u.Event),
							zap.String("external_id", u.ExternalID),
							zap.Error(err))
					}
				})
				go func() {
					if err := stream.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
						app.Logger.Error("Trade stream stopped", zap.Error(err))
					}
				}()
			}

			server := web.NewServer(app.Config.Server.Port, app.services(), app.Logger)
			errCh := make(chan error, 1)
			go func() {
				errCh <- server.Start()
			}()

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			app.Logger.Info("Shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		}),
	}
}

func newSyncPositionsCmd(withApp appRunner) *cobra.Command {
	return &cobra.Command{
		Use:   "sync-positions",
		Short: "Mirror the broker's positions into the ledger once",
		RunE: withApp(func(cmd *cobra.Command, app *App) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 2*time.Minute)
			defer cancel()

			positions, err := app.Positions.Reconcile(ctx)
			if err != nil {
				color.Red("Position sync failed: %v", err)
				return err
			}
			color.Green("Synchronized %d positions", len(positions))
			for _, p := range positions {
				fmt.Fprintf(cmd.OutOrStdout(), "  %-10s %12s %-5s %14s\n", p.Symbol, p.Quantity.String(), p.Side, p.MarketValue.StringFixed(2))
			}
			return nil
		}),
	}
}

func newRecoverOrphansCmd(withApp appRunner) *cobra.Command {
	return &cobra.Command{
		Use:   "recover-orphans",
		Short: "Re-query the broker for orders it accepted but the ledger never stored",
		RunE: withApp(func(cmd *cobra.Command, app *App) error {
			ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
			defer cancel()

			report, err := app.Orders.RecoverOrphans(ctx)
			if err != nil {
				color.Red("Orphan recovery failed: %v", err)
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Checked:   %d\n", report.Checked)
			fmt.Fprintf(out, "Recovered: %d\n", report.Recovered)
			fmt.Fprintf(out, "Missing:   %d\n", report.Missing)
			if report.Failed > 0 {
				color.Yellow("Failed:    %d", report.Failed)
				for _, e := range report.Errors {
					fmt.Fprintf(out, "  %s\n", e)
				}
				return fmt.Errorf("%d orphans could not be recovered", report.Failed)
			}
			if report.Missing > 0 {
				color.Yellow("%d orphans are unknown to the broker and stay open for manual reconciliation", report.Missing)
				return nil
			}
			color.Green("All orphans resolved")
			return nil
		}),
	}
}

func newMigrateCmd(withApp appRunner) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the ledger schema and exit",
		RunE: withApp(func(cmd *cobra.Command, app *App) error {
			color.Green("Ledger schema is up to date (%s)", driverName(app.Config.Database.Driver))
			return nil
		}),
	}
}

func driverName(driver string) string {
	if driver == "" {
		return "sqlite"
	}
	return driver
}

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/warp/rental-engine/api"
	"github.com/warp/rental-engine/interval"
)

const shutdownTimeout = 30 * time.Second

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and the monthly revenue scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, *configPath)
			if err != nil {
				return err
			}
			defer a.close()

			scheduler := api.NewRevenueScheduler(a.handler.Revenue, a.cfg.Scheduler, a.log.Named("scheduler"))
			if err := scheduler.Start(); err != nil {
				return err
			}
			defer scheduler.Stop()

			server := &http.Server{
				Addr:         a.cfg.HTTPServer.Address,
				Handler:      api.NewRouter(a.handler, a.cfg.HTTPServer.CORSOrigins),
				ReadTimeout:  a.cfg.HTTPServer.ReadTimeout,
				WriteTimeout: a.cfg.HTTPServer.WriteTimeout,
				IdleTimeout:  a.cfg.HTTPServer.IdleTimeout,
			}

			serveErr := make(chan error, 1)
			go func() {
				a.log.Info("server starting",
					zap.String("address", server.Addr),
					zap.String("env", a.cfg.Env),
				)
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serveErr <- err
				}
				close(serveErr)
			}()

			select {
			case err := <-serveErr:
				if err != nil {
					return fmt.Errorf("server failed: %w", err)
				}
				return nil
			case <-ctx.Done():
			}

			a.log.Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("server forced to shutdown: %w", err)
			}
			a.log.Info("server stopped")
			return nil
		},
	}
}

func recalculateCmd(configPath *string) *cobra.Command {
	var from, to string
	var includeTrial bool

	cmd := &cobra.Command{
		Use:   "recalculate",
		Short: "Recalculate and persist revenue for a month range",
		RunE: func(cmd *cobra.Command, args []string) error {
			fromMonth, err := interval.ParseMonth(from)
			if err != nil {
				return fmt.Errorf("--from: %w", err)
			}
			toMonth, err := interval.ParseMonth(to)
			if err != nil {
				return fmt.Errorf("--to: %w", err)
			}

			ctx := cmd.Context()
			a, err := newApp(ctx, *configPath)
			if err != nil {
				return err
			}
			defer a.close()

			results, err := a.handler.Revenue.CalculateRevenueRange(ctx, fromMonth, toMonth, includeTrial)
			if err != nil {
				return fmt.Errorf("recalculate %s..%s: %w", from, to, err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%-8s  %12s  %5s  %5s\n", "Month", "Revenue", "Paid", "Trial")
			for _, r := range results {
				fmt.Fprintf(out, "%-8s  %12s  %5d  %5d\n", r.Month, r.TotalRevenue.StringFixed(2), r.PaidCount, r.TrialCount)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&from, "from", "", "first month (YYYY-MM)")
	cmd.Flags().StringVar(&to, "to", "", "last month, inclusive (YYYY-MM)")
	cmd.Flags().BoolVar(&includeTrial, "include-trial", false, "count trial agreements in the totals")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")

	return cmd
}

func refreshCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Recalculate every month that has agreements",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, *configPath)
			if err != nil {
				return err
			}
			defer a.close()

			summary, err := a.handler.Revenue.RefreshAllRevenueData(ctx)
			if err != nil {
				return fmt.Errorf("refresh revenue: %w", err)
			}
			if summary.Months == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No agreements, nothing to refresh")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Refreshed %d months (%s..%s)\n", summary.Months, summary.From, summary.To)
			return nil
		},
	}
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/spf13/cobra"

	"github.com/ehr/claimsync/internal/domain/claim"
	"github.com/ehr/claimsync/internal/domain/lifecycle"
	"github.com/ehr/claimsync/internal/domain/lifecycle/migrations"
	"github.com/ehr/claimsync/internal/domain/response"
	"github.com/ehr/claimsync/internal/platform/auth"
	"github.com/ehr/claimsync/internal/platform/db"
	"github.com/ehr/claimsync/internal/platform/middleware"
	"github.com/ehr/claimsync/internal/platform/reporting"
	"github.com/ehr/claimsync/internal/platform/transfer"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "claimsync",
		Short:         "X12 claim submission and lifecycle tracking",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	root.AddCommand(serveCmd())
	root.AddCommand(migrateCmd())
	root.AddCommand(createCmd())
	root.AddCommand(submitCmd())
	root.AddCommand(ingestCmd())
	root.AddCommand(watchCmd())
	root.AddCommand(decodeCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(filesCmd())
	root.AddCommand(exportCmd())
	return root
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseUUIDArg(args []string, what string) (uuid.UUID, error) {
	id, err := uuid.Parse(args[0])
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid %s %q: %w", what, args[0], err)
	}
	return id, nil
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the claim API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func runServer() error {
	ctx, stop := signalContext()
	defer stop()

	a, err := loadApp(ctx, true)
	if err != nil {
		return err
	}
	defer a.close()
	logger := a.logger
	cfg := a.cfg

	e := newServer(a)

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Str("store", cfg.StoreDriver).Str("transfer", cfg.TransferMode).Msg("starting server")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("server error")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}

func newServer(a *app) *echo.Echo {
	cfg := a.cfg
	logger := a.logger

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.BodyLimit(cfg.BodyLimit, cfg.X12BodyLimit))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout, "/api/v1/ingest/poll"))

	// Auth middleware
	if cfg.JWTSecret != "" {
		e.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.JWTIssuer,
			SigningKey: []byte(cfg.JWTSecret),
			Skipper:    auth.AuthSkipper,
		}))
	} else {
		logger.Warn().Msg("JWT_SECRET is not set; every request gets admin access")
		e.Use(auth.DevAuthMiddleware())
	}

	e.GET("/health", db.HealthHandler(a.healthChecks()...))

	apiV1 := e.Group("/api/v1")
	apiV1.Use(middleware.RateLimit(middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}))
	apiV1.Use(middleware.Audit(logger))

	var inbox lifecycle.Inbox
	if a.channel != nil {
		inbox = a.channel
	}
	lifecycle.NewHandler(a.svc, a.ingest, inbox).RegisterRoutes(apiV1)
	reporting.NewHandler(lifecycle.NewReports(a.store)).RegisterRoutes(apiV1)
	return e
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := loadApp(ctx, false)
			if err != nil {
				return err
			}
			defer a.close()

			if a.pool == nil {
				// SQLite applies its migrations on open; memory has none.
				fmt.Printf("Store %s is up to date.\n", a.cfg.StoreDriver)
				return nil
			}
			count, err := db.NewMigrator(a.pool, migrations.Postgres()).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			a, err := loadApp(ctx, false)
			if err != nil {
				return err
			}
			defer a.close()

			if a.pool == nil {
				fmt.Printf("Store %s migrates on open; nothing to report.\n", a.cfg.StoreDriver)
				return nil
			}
			statuses, err := db.NewMigrator(a.pool, migrations.Postgres()).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	})

	return cmd
}

func createCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create <record.json>",
		Short: "Store a claim record and report validation problems",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var rec claim.Record
			if err := json.Unmarshal(raw, &rec); err != nil {
				return fmt.Errorf("parse %s: %w", args[0], err)
			}

			ctx := context.Background()
			a, err := loadApp(ctx, false)
			if err != nil {
				return err
			}
			defer a.close()

			c, problems, err := a.svc.CreateClaim(ctx, rec)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]interface{}{"claim": c, "validation": problems})
		},
	}
}

func submitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "submit <claim-id>",
		Short: "Encode a claim as 837P and hand it to the clearinghouse",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseUUIDArg(args, "claim id")
			if err != nil {
				return err
			}
			ctx, stop := signalContext()
			defer stop()
			a, err := loadApp(ctx, true)
			if err != nil {
				return err
			}
			defer a.close()

			sub, err := a.svc.Submit(ctx, id)
			if sub != nil {
				if perr := printJSON(cmd.OutOrStdout(), sub); perr != nil {
					return perr
				}
			}
			var vf *claim.ValidationFailure
			if errors.As(err, &vf) {
				_ = printJSON(cmd.OutOrStdout(), vf.Errors)
			}
			return err
		},
	}
}

func ingestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Ingest response files from the inbound channel or from local paths",
		RunE: func(cmd *cobra.Command, args []string) error {
			files, _ := cmd.Flags().GetStringSlice("file")
			ctx, stop := signalContext()
			defer stop()

			a, err := loadApp(ctx, len(files) == 0)
			if err != nil {
				return err
			}
			defer a.close()

			if len(files) == 0 {
				res, err := a.ingest.IngestBatch(ctx, a.channel)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), res)
			}

			var results []*lifecycle.IngestResult
			var failed int
			for _, path := range files {
				content, err := os.ReadFile(path)
				if err != nil {
					return err
				}
				res, err := a.ingest.IngestFile(ctx, lifecycle.SourceUpload, filepath.Base(path), content)
				if err != nil {
					a.logger.Error().Err(err).Str("filename", path).Msg("ingest failed")
					failed++
				}
				if res != nil {
					results = append(results, res)
				}
			}
			if err := printJSON(cmd.OutOrStdout(), results); err != nil {
				return err
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d file(s) failed", failed, len(files))
			}
			return nil
		},
	}
	cmd.Flags().StringSlice("file", nil, "Local X12 file to ingest (repeatable); skips the channel")
	return cmd
}

func watchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Ingest inbound files as they arrive",
		Long: "In dir mode the inbound directory is watched for new files. " +
			"In http mode the clearinghouse is polled every --interval.",
		RunE: func(cmd *cobra.Command, args []string) error {
			interval, _ := cmd.Flags().GetDuration("interval")
			ctx, stop := signalContext()
			defer stop()

			a, err := loadApp(ctx, true)
			if err != nil {
				return err
			}
			defer a.close()

			if a.watchIn != "" {
				w := transfer.NewWatcher(a.watchIn, func(ctx context.Context, name string, content []byte) error {
					_, err := a.ingest.IngestFile(ctx, lifecycle.SourceInbound, name, content)
					return err
				}, a.cfg.WatchSettle, a.logger)
				return w.Run(ctx)
			}
			return poll(ctx, a, interval)
		},
	}
	cmd.Flags().Duration("interval", time.Minute, "Poll interval in http mode")
	return cmd
}

func poll(ctx context.Context, a *app, interval time.Duration) error {
	tick := time.NewTicker(interval)
	defer tick.Stop()
	for {
		if _, err := a.ingest.IngestBatch(ctx, a.channel); err != nil && ctx.Err() == nil {
			a.logger.Error().Err(err).Msg("poll failed")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-tick.C:
		}
	}
}

func decodeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "decode <file>",
		Short: "Decode a 271, 277, 997, 999 or 835 file and print it as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			doc, err := response.Decode(raw)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), doc)
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <claim-id>",
		Short: "Show a claim's derived status and event history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseUUIDArg(args, "claim id")
			if err != nil {
				return err
			}
			ctx := context.Background()
			a, err := loadApp(ctx, false)
			if err != nil {
				return err
			}
			defer a.close()

			c, err := a.svc.GetClaim(ctx, id)
			if err != nil {
				return err
			}
			events, err := a.svc.Events(ctx, id)
			if err != nil {
				return err
			}
			return writeStatus(cmd.OutOrStdout(), c, events)
		},
	}
}

func writeStatus(w io.Writer, c *lifecycle.Claim, events []*lifecycle.Event) error {
	fmt.Fprintf(w, "Claim %s (%s): %s\n\n", c.ID, c.ControlNumber, c.Status)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "OCCURRED\tTYPE\tSOURCE FILE")
	for _, e := range events {
		src := ""
		if e.SourceFileID != nil {
			src = e.SourceFileID.String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", e.OccurredAt.Format("2006-01-02 15:04:05"), e.Type, src)
	}
	return tw.Flush()
}

func filesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "files",
		Short: "Inspect and reprocess received files",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List stored files",
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			ctx := context.Background()
			a, err := loadApp(ctx, false)
			if err != nil {
				return err
			}
			defer a.close()

			files, total, err := a.store.ListFiles(ctx, limit, 0)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintf(tw, "ID\tSOURCE\tFILENAME\tRECEIVED\tOUTCOME\n")
			for _, f := range files {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", f.ID, f.Source, f.Filename, f.ReceivedAt.Format("2006-01-02 15:04:05"), f.Outcome)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d of %d file(s)\n", len(files), total)
			return nil
		},
	}
	list.Flags().Int("limit", 50, "Maximum files to show")
	cmd.AddCommand(list)

	cmd.AddCommand(&cobra.Command{
		Use:   "reprocess <file-id>",
		Short: "Clear a file's processed flag and ingest it again",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseUUIDArg(args, "file id")
			if err != nil {
				return err
			}
			ctx := context.Background()
			a, err := loadApp(ctx, false)
			if err != nil {
				return err
			}
			defer a.close()

			res, err := a.ingest.Reprocess(ctx, id)
			if res != nil {
				if perr := printJSON(cmd.OutOrStdout(), res); perr != nil {
					return perr
				}
			}
			return err
		},
	})
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export reports to files",
	}

	remit := &cobra.Command{
		Use:   "remittance",
		Short: "Write every remittance line as Parquet",
		RunE: func(cmd *cobra.Command, args []string) error {
			out, _ := cmd.Flags().GetString("out")
			return export(out, func(ctx context.Context, r *lifecycle.Reports, w io.Writer) (int, error) {
				rows, err := r.RemittanceRows(ctx)
				if err != nil {
					return 0, err
				}
				return len(rows), reporting.WriteRemittance(w, rows)
			})
		},
	}
	remit.Flags().String("out", "remittance.parquet", "Output file")
	cmd.AddCommand(remit)

	unmatched := &cobra.Command{
		Use:   "unmatched",
		Short: "Write the reconciliation queue as XLSX",
		RunE: func(cmd *cobra.Command, args []string) error {
			out, _ := cmd.Flags().GetString("out")
			all, _ := cmd.Flags().GetBool("all")
			return export(out, func(ctx context.Context, r *lifecycle.Reports, w io.Writer) (int, error) {
				rows, err := r.UnmatchedRows(ctx, all)
				if err != nil {
					return 0, err
				}
				return len(rows), reporting.WriteUnmatched(w, rows)
			})
		},
	}
	unmatched.Flags().String("out", "unmatched.xlsx", "Output file")
	unmatched.Flags().Bool("all", false, "Include resolved items")
	cmd.AddCommand(unmatched)
	return cmd
}

func export(path string, write func(ctx context.Context, r *lifecycle.Reports, w io.Writer) (int, error)) error {
	ctx := context.Background()
	a, err := loadApp(ctx, false)
	if err != nil {
		return err
	}
	defer a.close()

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	n, err := write(ctx, lifecycle.NewReports(a.store), f)
	if err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	a.logger.Info().Str("path", path).Int("rows", n).Msg("export written")
	return nil
}

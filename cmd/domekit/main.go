package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/domekit/domekit/internal/application"
	"github.com/domekit/domekit/internal/infrastructure/config"
	"github.com/domekit/domekit/internal/infrastructure/logger"
	"github.com/domekit/domekit/internal/infrastructure/persistence"
	"github.com/domekit/domekit/internal/interfaces/cli"
)

const appName = "domekit"

func main() {
	root := &cobra.Command{
		Use:           appName,
		Short:         "Local-first, policy-mediating runtime between a chat model and side-effectful tools",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runServe,
	}

	root.AddCommand(
		newServeCmd(),
		newSidecarCmd(),
		newSeedCmd(),
		newREPLCmd(),
		newVersionCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", appName, err)
		os.Exit(1)
	}
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP runtime (default)",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, log, err := bootstrap("json")
	if err != nil {
		return err
	}
	defer log.Sync()

	// 清单加载失败是唯一的启动期致命错误
	manifest, err := config.LoadManifest(config.ManifestPathFromEnv())
	if err != nil {
		log.Error("Failed to load manifest", zap.Error(err))
		return err
	}

	app, err := application.NewApp(cfg, manifest, log)
	if err != nil {
		log.Error("Failed to initialize application", zap.Error(err))
		return err
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	if err := app.Start(ctx); err != nil {
		log.Error("Failed to start application", zap.Error(err))
		return err
	}

	// 等待退出信号
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	log.Info("Received shutdown signal", zap.String("signal", sig.String()))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := app.Stop(shutdownCtx); err != nil {
		log.Error("Error during shutdown", zap.Error(err))
		return err
	}
	return nil
}

func newSidecarCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sidecar",
		Short: "Expose the five tools over a stdio JSON-RPC framing",
		RunE: func(cmd *cobra.Command, args []string) error {
			// stdout 留给协议帧，日志走 stderr
			cfg, log, err := bootstrapTo("json", "stderr")
			if err != nil {
				return err
			}
			defer log.Sync()

			manifest, err := config.LoadManifest(config.ManifestPathFromEnv())
			if err != nil {
				log.Error("Failed to load manifest", zap.Error(err))
				return err
			}

			app, err := application.NewAppSidecar(cfg, manifest, log)
			if err != nil {
				log.Error("Failed to initialize sidecar", zap.Error(err))
				return err
			}
			defer func() {
				stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer stopCancel()
				_ = app.Stop(stopCtx)
			}()

			return app.SidecarServer().Serve(cmd.Context(), os.Stdin, os.Stdout)
		},
	}
}

func newSeedCmd() *cobra.Command {
	var dbPath string
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create a demo SQLite database for sql_query",
		RunE: func(cmd *cobra.Command, args []string) error {
			rows, err := persistence.SeedDemoDB(dbPath)
			if err != nil {
				return err
			}
			if rows == 0 {
				fmt.Printf("demo database %s already seeded\n", dbPath)
			} else {
				fmt.Printf("seeded %s with %d rows\n", dbPath, rows)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dbPath, "db", "demo.db", "demo database path")
	return cmd
}

func newREPLCmd() *cobra.Command {
	var baseURL, model string
	cmd := &cobra.Command{
		Use:   "repl",
		Short: "Interactive client against a running gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			repl := cli.NewREPL(cli.Config{
				BaseURL: baseURL,
				Model:   model,
				Width:   100,
			})
			return repl.Run(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&baseURL, "url", "http://127.0.0.1:8080", "gateway base URL")
	cmd.Flags().StringVar(&model, "model", "", "model override sent with requests")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s v%s\n", appName, application.Version)
		},
	}
}

// bootstrap 加载运行时配置并初始化日志（stdout）
func bootstrap(format string) (*config.Config, *zap.Logger, error) {
	return bootstrapTo(format, "stdout")
}

func bootstrapTo(format, output string) (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load runtime config: %w", err)
	}

	if cfg.Log.Format != "" {
		format = cfg.Log.Format
	}
	log, err := logger.NewLogger(logger.Config{
		Level:      cfg.Log.Level,
		Format:     format,
		OutputPath: output,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("initialize logger: %w", err)
	}
	return cfg, log, nil
}

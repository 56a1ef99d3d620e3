package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"verdant/adapters/database"
	"verdant/api"
)

const (
	appName         = "verdant"
	shutdownTimeout = 15 * time.Second
)

var Version = "dev"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	v := viper.New()
	cmd := &cobra.Command{
		Use:          appName,
		Short:        "Plant collection service with image galleries",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), v)
		},
	}
	if err := bindFlags(cmd.PersistentFlags(), v); err != nil {
		panic(err)
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), v)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema and exit",
		RunE: func(_ *cobra.Command, _ []string) error {
			return migrate(v)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("%s version %s\n", appName, Version)
		},
	})
	return cmd
}

func setupLogger(level string) {
	var slogLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		slogLevel = slog.LevelDebug
	case "warn":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slogLevel})))
	if slogLevel > slog.LevelDebug {
		gin.SetMode(gin.ReleaseMode)
	}
}

func serve(ctx context.Context, v *viper.Viper) error {
	args, err := loadArgs(v)
	if err != nil {
		return err
	}
	setupLogger(args.LogLevel)
	if missing := args.Validate(); len(missing) > 0 {
		return fmt.Errorf("missing arguments: %s", strings.Join(missing, ", "))
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	server, err := api.NewServer(ctx, args.ServerConfig)
	if err != nil {
		return err
	}
	defer server.Close()
	if err := server.Start(); err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              args.ServerURL,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server listening", slog.String("addr", args.ServerURL), slog.String("version", Version))
		errCh <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

func migrate(v *viper.Viper) error {
	args, err := loadArgs(v)
	if err != nil {
		return err
	}
	setupLogger(args.LogLevel)
	if missing := args.validateDB(); len(missing) > 0 {
		return fmt.Errorf("missing arguments: %s", strings.Join(missing, ", "))
	}
	db, err := database.Open(args.ServerConfig.DB)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()
	if err := database.Migrate(db); err != nil {
		return err
	}
	slog.Info("Database schema is up to date", slog.String("driver", args.ServerConfig.DB.Driver))
	return nil
}

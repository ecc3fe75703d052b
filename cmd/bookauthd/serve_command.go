package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	authgrpc "github.com/panyam/bookauth/grpc"
	gormstore "github.com/panyam/bookauth/stores/gorm"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	var autoMigrate bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the auth HTTP server (and the gRPC listener when grpc.addr is set)",
		RunE: func(cmd *cobra.Command, args []string) error {
			runCtx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			cfg := ctx.config
			logger := ctx.logger
			if autoMigrate && cfg.Database.Driver == "postgres" {
				if err := migrate(cfg.Database.URL); err != nil {
					return err
				}
			}

			store, closeStore, err := ctx.openStore(runCtx)
			if err != nil {
				return err
			}
			defer closeStore()

			ba := newBookAuth(cfg, store, logger)
			srv := &http.Server{
				Addr:              cfg.Server.Addr,
				Handler:           ba.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			errc := make(chan error, 2)
			go func() {
				logger.Info("http server listening", "addr", cfg.Server.Addr, "base_url", cfg.Server.BaseURL)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					errc <- fmt.Errorf("http server: %w", err)
				}
			}()

			var grpcServer *grpc.Server
			if cfg.GRPC.Addr != "" {
				grpcServer, err = startGRPC(cfg.GRPC.Addr, ba.Sessions, logger, errc)
				if err != nil {
					srv.Close()
					return err
				}
			}

			select {
			case <-runCtx.Done():
			case err = <-errc:
			}

			logger.Info("bookauthd shutting down")
			shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
			defer done()
			if grpcServer != nil {
				grpcServer.GracefulStop()
			}
			if serr := srv.Shutdown(shutdownCtx); serr != nil {
				logger.Warn("http shutdown", "err", serr)
			}
			// reset mails still in flight; each is bounded by its delivery timeout
			ba.PasswordReset().Wait()
			return err
		},
	}

	cmd.Flags().BoolVar(&autoMigrate, "auto-migrate", true, "Migrate the postgres schema before serving")
	return cmd
}

// startGRPC serves the health service behind the auth interceptors. Book
// services register on the same server in the host application; health
// checks stay public.
func startGRPC(addr string, verifier authgrpc.TokenVerifier, logger *slog.Logger, errc chan<- error) (*grpc.Server, error) {
	listen, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("grpc listen: %w", err)
	}

	interceptors := authgrpc.NewPublicMethodsConfig(verifier,
		healthpb.Health_Check_FullMethodName,
		healthpb.Health_Watch_FullMethodName,
	)
	interceptors.Logger = logger

	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(authgrpc.UnaryAuthInterceptor(interceptors)),
		grpc.ChainStreamInterceptor(authgrpc.StreamAuthInterceptor(interceptors)),
	)
	healthpb.RegisterHealthServer(srv, health.NewServer())

	go func() {
		logger.Info("grpc server listening", "addr", addr)
		if err := srv.Serve(listen); err != nil {
			errc <- fmt.Errorf("grpc server: %w", err)
		}
	}()
	return srv, nil
}

func migrate(dsn string) error {
	db, err := gormstore.Open(dsn)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("database handle: %w", err)
	}
	defer sqlDB.Close()
	if err := gormstore.AutoMigrate(db); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

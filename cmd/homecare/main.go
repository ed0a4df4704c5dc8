package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/iurnickita/homecare/internal/auth"
	"github.com/iurnickita/homecare/internal/config"
	"github.com/iurnickita/homecare/internal/docstore"
	"github.com/iurnickita/homecare/internal/handler"
	"github.com/iurnickita/homecare/internal/logger"
	"github.com/iurnickita/homecare/internal/service"
	"github.com/iurnickita/homecare/internal/store"
	"github.com/iurnickita/homecare/internal/token"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		log.Fatal(err)
	}
}

func newRootCmd() *cobra.Command {
	var configFile string

	rootCmd := &cobra.Command{
		Use:           "homecare",
		Short:         "Billing balances and SEPA direct debit engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		// без подкоманды запускаем сервер
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), configFile)
		},
	}
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "path to config file (default ./config.yaml)")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), configFile)
		},
	}

	var company string
	tokenCmd := &cobra.Command{
		Use:   "token",
		Short: "Print an API token for a creditor company",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.GetConfig(configFile)
			if err != nil {
				return err
			}
			signed, err := token.NewToken(cfg.Token).BuildJWTString(company)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), signed)
			return err
		},
	}
	tokenCmd.Flags().StringVar(&company, "company", "", "creditor company id")
	_ = tokenCmd.MarkFlagRequired("company")

	rootCmd.AddCommand(serveCmd, tokenCmd)
	return rootCmd
}

func run(ctx context.Context, configFile string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.GetConfig(configFile)
	if err != nil {
		return err
	}

	zaplog, err := logger.NewZapLog(cfg.Logger)
	if err != nil {
		return err
	}
	defer zaplog.Sync()

	store, err := store.NewStore(cfg.Store)
	if err != nil {
		return err
	}
	defer store.Close()

	deps := service.Deps{
		Store:    store,
		Sequence: cfg.Sequence,
		Sepa:     cfg.Sepa,
	}
	// nil-клиент в интерфейс не кладем
	if client := docstore.NewClient(cfg.Docstore); client != nil {
		deps.Uploader = client
		zaplog.Info("sepa files upload enabled", zap.String("docstore", cfg.Docstore.Addr))
	}

	service, err := service.NewService(cfg.Service, deps, zaplog)
	if err != nil {
		return err
	}
	auth := auth.NewAuth(token.NewToken(cfg.Token), zaplog)

	return handler.Serve(ctx, cfg.Handler, auth, service, zaplog)
}

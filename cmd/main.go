package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/spf13/cobra"

	"psych-agent/internal/config"
	"psych-agent/internal/observe"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:          "psych-agent",
	Short:        "Conversational assistant with per-user persona and running summary",
	SilenceUsage: true,
	RunE:         runLambda,
}

var lambdaCmd = &cobra.Command{
	Use:   "lambda",
	Short: "Serve API Gateway proxy events (default)",
	RunE:  runLambda,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", os.Getenv("CONFIG_FILE"), "YAML config file (or set CONFIG_FILE)")
	rootCmd.AddCommand(lambdaCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
}

func main() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func runLambda(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		return err
	}
	setupLogger(cfg, true)

	a, err := buildApp(ctx, cfg, observe.DefaultMetrics())
	if err != nil {
		slog.Error("failed to build app", "err", err)
		return err
	}
	defer a.close()

	lambda.Start(a.handler.Handle)
	return nil
}

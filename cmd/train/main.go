package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/Brownie44l1/plant-disease-api/internal/app"
	"github.com/Brownie44l1/plant-disease-api/internal/config"
	"github.com/Brownie44l1/plant-disease-api/internal/train"
)

func main() {
	configPath := flag.String("config", config.DefaultConfigPath, "path to the yaml config")
	flag.Parse()

	env, err := app.Load(*configPath)
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, err := train.Run(ctx, env)
	if err != nil {
		env.Log.Fatalf("Training failed: %v", err)
	}
	env.Log.WithField("run", report.RunID).Infof("Model saved at: %s", report.ModelPath)
}

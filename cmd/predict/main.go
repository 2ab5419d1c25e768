package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/Brownie44l1/plant-disease-api/internal/app"
	"github.com/Brownie44l1/plant-disease-api/internal/config"
)

func main() {
	configPath := flag.String("config", config.DefaultConfigPath, "path to the yaml config")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [-config config.yaml] path/to/image.jpg\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()
	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	env, err := app.Load(*configPath)
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	predictor, err := env.NewPredictor()
	if err != nil {
		env.Log.Fatalf("Failed to load model: %v", err)
	}
	defer predictor.Close()

	f, err := os.Open(flag.Arg(0))
	if err != nil {
		env.Log.Fatalf("Failed to open image: %v", err)
	}
	defer f.Close()

	label, confidence, err := predictor.PredictLabel(f)
	if err != nil {
		env.Log.Fatalf("Prediction failed: %v", err)
	}
	fmt.Printf("Prediction: %s (%.2f%% confidence)\n", label, confidence*100)
}

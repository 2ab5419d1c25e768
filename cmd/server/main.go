package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Brownie44l1/plant-disease-api/internal/app"
	"github.com/Brownie44l1/plant-disease-api/internal/config"
	"github.com/Brownie44l1/plant-disease-api/internal/handlers"
)

func enableCORS(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, r)
	}
}

func main() {
	configPath := flag.String("config", config.DefaultConfigPath, "path to the yaml config")
	flag.Parse()

	env, err := app.Load(*configPath)
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}
	log := env.Log

	predictor, err := env.NewPredictor()
	if err != nil {
		log.Fatalf("Failed to initialize model: %v", err)
	}
	defer predictor.Close()

	handler := handlers.NewHandler(predictor, logrus.NewEntry(log), handlers.Options{
		UploadDir:   env.Config.Server.UploadDir,
		MaxUploadMB: env.Config.Server.MaxUploadMB,
	})
	mux := http.NewServeMux()
	handler.Routes(mux, enableCORS)

	port := env.Config.Server.Port
	srv := &http.Server{Addr: ":" + port, Handler: mux}

	log.WithFields(logrus.Fields{"port": port, "classes": len(predictor.Classes)}).Info("Server starting")
	log.Info("Endpoints:")
	log.Info("  GET  /health         - Health check")
	log.Info("  POST /predict        - Predict from image upload (field 'file' or 'image')")
	log.Info("  POST /predict/tensor - Raw preprocessed array prediction")
	log.Info("  GET  /ws             - Websocket, binary image frames in, JSON out")
	log.Infof("Upload test: curl -X POST -F \"file=@leaf.jpg\" http://localhost:%s/predict", port)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdown)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalf("Server failed: %v", err)
	}
	log.Info("Server stopped")
}

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"github.com/tendant/simple-hazard-pipeline/internal/app"
	"github.com/tendant/simple-hazard-pipeline/internal/config"
	"github.com/tendant/simple-hazard-pipeline/internal/handlers"
	"github.com/tendant/simple-hazard-pipeline/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	log := logging.New(cfg.LogLevel, cfg.LogPretty)

	// Clients are built once per cold start and reused across warm invocations
	pipelineApp, err := app.New(context.Background(), cfg, log, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize pipeline")
	}
	defer pipelineApp.Close()

	handler := handlers.NewLambdaHandler(pipelineApp.Runner(nil), log)
	lambda.Start(handler.Handle)
}

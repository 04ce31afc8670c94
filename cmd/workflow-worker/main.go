package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/wolfman30/repassist-platform/cmd/mainconfig"
	"github.com/wolfman30/repassist-platform/internal/app/bootstrap"
	appconfig "github.com/wolfman30/repassist-platform/internal/config"
	"github.com/wolfman30/repassist-platform/internal/workflow"
	"github.com/wolfman30/repassist-platform/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting workflow worker")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	awsCfg, err := mainconfig.LoadAWSConfig(ctx, cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	runtime, err := bootstrap.Build(ctx, cfg, awsCfg, logger, prometheus.NewRegistry())
	if err != nil {
		logger.Error("failed to build runtime", "error", err)
		os.Exit(1)
	}

	var worker *workflow.Worker
	if cfg.UseMemoryQueue {
		memQueue := workflow.NewMemoryQueue(128)
		worker = workflow.NewWorker(runtime.Engine, memQueue, nil, logger,
			workflow.WithWorkerCount(cfg.WorkerCount))
	} else {
		sqsClient := sqs.NewFromConfig(awsCfg)
		sqsQueue := workflow.NewSQSQueue(sqsClient, cfg.WorkflowQueueURL)
		dynamoClient := dynamodb.NewFromConfig(awsCfg)
		jobStore := workflow.NewJobStore(dynamoClient, cfg.WorkflowJobTable, logger)
		worker = workflow.NewWorker(runtime.Engine, sqsQueue, jobStore, logger,
			workflow.WithWorkerCount(cfg.WorkerCount))
	}

	worker.Start(ctx)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down workflow worker...")
	cancel()

	doneCtx, doneCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer doneCancel()

	waitCh := make(chan struct{})
	go func() {
		worker.Wait()
		close(waitCh)
	}()

	select {
	case <-waitCh:
		logger.Info("workflow worker stopped")
	case <-doneCtx.Done():
		logger.Error("workflow worker shutdown timed out", "error", doneCtx.Err())
	}

	runtime.Close(doneCtx)
}

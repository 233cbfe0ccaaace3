package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/OFFIS-RIT/stancemap/backend/internal/engine"
	"github.com/OFFIS-RIT/stancemap/backend/internal/queue"
	"github.com/OFFIS-RIT/stancemap/backend/internal/util"
	"github.com/OFFIS-RIT/stancemap/backend/pkg/logger"
	"github.com/OFFIS-RIT/stancemap/backend/pkg/logger/console"

	_ "github.com/lib/pq"
)

func main() {
	util.LoadEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// logger
	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug:  util.GetEnvBool("DEBUG", false),
		JSON:   util.GetEnv("LOG_FORMAT") == "json",
		Prefix: "stancemap",
	})
	logger.Init(consoleLogger)

	if err := util.RequireEnv("RABBITMQ_HOST"); err != nil {
		logger.Fatal("Invalid configuration", "err", err)
	}

	eng, err := engine.New(ctx)
	if err != nil {
		logger.Fatal("Failed to start engine", "err", err)
	}
	defer eng.Close()

	// Init rabbitmq
	conn := queue.Init()
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open channel", "err", err)
	}
	defer ch.Close()

	if err := queue.SetupQueues(ch, []string{queue.StepQueue}); err != nil {
		logger.Fatal("Failed to set up queues", "err", err)
	}

	// one message at a time
	consumerCh, err := conn.Channel()
	if err != nil {
		logger.Fatal("Failed to open consumer channel", "err", err)
	}
	defer consumerCh.Close()

	if err := consumerCh.Qos(1, 0, false); err != nil {
		logger.Fatal("Failed to set QoS", "err", err)
	}

	msgs, err := consumerCh.Consume(
		queue.StepQueue,
		queue.StepQueue+"_consumer",
		false, // autoAck
		false, // exclusive
		false, // noLocal
		false, // noWait
		nil,   // args
	)
	if err != nil {
		logger.Fatal("Failed to start consuming", "queue", queue.StepQueue, "err", err)
	}

	logger.Info("Listening for messages", "queue", queue.StepQueue)

	go func() {
		for {
			select {
			case <-ctx.Done():
				logger.Info("Stopping message processor")
				return
			case msg, ok := <-msgs:
				if !ok {
					logger.Info("Message channel closed", "queue", queue.StepQueue)
					stop()
					return
				}
				startTime := time.Now()
				logger.Info("Received message", "queue", queue.StepQueue)

				queue.HandleDelivery(ctx, eng.Runner, ch, msg, queue.StepQueue)

				metrics := eng.Client.GetMetrics()
				logger.Info(
					"AI Metrics",
					"input_tokens", metrics.InputTokens,
					"output_tokens", metrics.OutputTokens,
					"total_tokens", metrics.TotalTokens,
					"duration", formatDuration(time.Duration(metrics.DurationMs)*time.Millisecond),
				)
				logger.Info("Processing time", "duration", formatDuration(time.Since(startTime)))
				eng.Client.ResetMetrics()
			}
		}
	}()

	<-ctx.Done()
	logger.Info("Shutdown signal received, exiting...")
}

func formatDuration(d time.Duration) string {
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", hours, minutes, seconds)
}

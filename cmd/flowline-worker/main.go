// Package main provides the Flowline worker that executes claimed workflow
// executions.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	cli "github.com/urfave/cli/v3"

	"github.com/mstairs/flowline/pkg/cmd"
	"github.com/mstairs/flowline/pkg/lifecycle"
	"github.com/mstairs/flowline/pkg/log"
	"github.com/mstairs/flowline/pkg/otelhelper"
	"github.com/mstairs/flowline/pkg/workflow"
)

func main() {
	command := &cli.Command{
		Name:                  "flowline-worker",
		Usage:                 "Start workers to execute workflows",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "worker-id",
				Aliases: []string{"id"},
				Usage:   "Custom worker ID (auto-generated if not provided)",
				Value:   "",
				Sources: cli.EnvVars("WORKER_ID"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus provider (kafka, gochannel)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS_TYPE"),
			},
			&cli.StringFlag{
				Name:    "kafka-brokers",
				Usage:   "Comma-separated Kafka broker addresses",
				Value:   "localhost:9092",
				Sources: cli.EnvVars("KAFKA_BROKERS"),
			},
			&cli.IntFlag{
				Name:    "workers",
				Usage:   "Number of concurrent execution workers",
				Value:   lifecycle.DefaultWorkers,
				Sources: cli.EnvVars("WORKERS"),
			},
			&cli.IntFlag{
				Name:    "queue-size",
				Usage:   "In-process execution queue capacity",
				Value:   lifecycle.DefaultQueueSize,
				Sources: cli.EnvVars("QUEUE_SIZE"),
			},
			&cli.DurationFlag{
				Name:    "execution-timeout",
				Usage:   "Wall-clock running-time budget per execution",
				Value:   workflow.DefaultExecutionTimeout,
				Sources: cli.EnvVars("EXECUTION_TIMEOUT"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"))

			logger := log.WithModule("flowline-worker")

			logger.InfoContext(ctx, "Initializing Flowline worker")

			persist, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
			if err != nil {
				return err
			}

			defer func() {
				if err := persist.Close(ctx); err != nil {
					logger.ErrorContext(ctx, "Failed to close persistence", "error", err)
				}
			}()

			eventBus, err := cmd.NewEventBus(
				command.String("event-bus"),
				"flowline-worker",
				command.String("kafka-brokers"),
				logger,
			)
			if err != nil {
				return err
			}

			defer func() {
				if err := eventBus.Close(); err != nil {
					logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
				}
			}()

			registry := cmd.NewRegistry(logger, persist)

			tracer, err := otelhelper.NewTracer(ctx, "flowline-worker")
			if err != nil {
				return err
			}

			executor := workflow.NewExecutor(
				logger,
				persist,
				registry,
				eventBus,
				tracer,
				command.Duration("execution-timeout"),
			)

			manager := lifecycle.NewManager(logger, persist, executor, eventBus, lifecycle.Config{
				QueueSize: command.Int("queue-size"),
				Workers:   command.Int("workers"),
				WorkerID:  command.String("worker-id"),
			})

			runCtx, cancel := context.WithCancel(ctx)
			defer cancel()

			if err := manager.Start(runCtx, command.Int("workers")); err != nil {
				return err
			}

			logger.InfoContext(ctx, "Worker started")

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

			<-sigChan
			logger.InfoContext(ctx, "Shutting down worker")

			cancel()
			manager.Stop()

			return nil
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}

// Package main provides the Flowline dispatcher: the scheduler that fires
// due cron occurrences and wakes suspended executions.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	cli "github.com/urfave/cli/v3"

	"github.com/mstairs/flowline/pkg/cmd"
	"github.com/mstairs/flowline/pkg/dispatch"
	"github.com/mstairs/flowline/pkg/lifecycle"
	"github.com/mstairs/flowline/pkg/log"
)

func main() {
	command := &cli.Command{
		Name:                  "flowline-dispatcher",
		Usage:                 "Fire due schedules and wake suspended executions",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
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
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis URL for scheduler leader election (optional)",
				Value:   "",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.DurationFlag{
				Name:    "tick-interval",
				Usage:   "Scheduler polling cadence",
				Value:   dispatch.DefaultTickInterval,
				Sources: cli.EnvVars("TICK_INTERVAL"),
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

			logger := log.WithModule("flowline-dispatcher")

			logger.InfoContext(ctx, "Initializing Flowline dispatcher")

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
				"flowline-dispatcher",
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

			var lock *dispatch.LeaderLock

			if redisURL := command.String("redis-url"); redisURL != "" {
				opts, err := redis.ParseURL(redisURL)
				if err != nil {
					return err
				}

				client := redis.NewClient(opts)
				defer func() {
					if err := client.Close(); err != nil {
						logger.ErrorContext(ctx, "Failed to close redis client", "error", err)
					}
				}()

				lock = dispatch.NewLeaderLock(logger, client, "", dispatch.DefaultLeaderTTL)
			}

			// The dispatcher only enqueues; executions run in worker
			// processes that consume the published trigger events.
			manager := lifecycle.NewManager(logger, persist, nil, eventBus, lifecycle.Config{})

			scheduler := dispatch.NewScheduler(
				logger,
				persist,
				manager,
				eventBus,
				lock,
				command.Duration("tick-interval"),
			)

			runCtx, cancel := context.WithCancel(ctx)
			defer cancel()

			if err := scheduler.Start(runCtx); err != nil {
				return err
			}

			logger.InfoContext(ctx, "Dispatcher started")

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

			<-sigChan
			logger.InfoContext(ctx, "Shutting down dispatcher")

			cancel()

			stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer stopCancel()

			if err := scheduler.Stop(stopCtx); err != nil {
				logger.ErrorContext(ctx, "Failed to stop scheduler", "error", err)
			}

			return nil
		},
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}

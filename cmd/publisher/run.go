package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gomq-async/config"
	"gomq-async/internal/consumer"
	"gomq-async/internal/metrics"
	"gomq-async/internal/mq"
	"gomq-async/internal/publisher"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
)

const reportInterval = time.Second

func run(c *cli.Context) error {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if c.IsSet("strategy") {
		cfg.Async.BackPressureStrategy = c.String("strategy")
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	level, _ := cfg.Log.SlogLevel()
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})))

	count := c.Int("count")
	exchange := c.String("exchange")
	route := c.String("route")
	instance := c.String("instance")
	if instance == "" {
		instance, _ = os.Hostname()
	}
	slog.Info("config",
		"rabbitmq", cfg.RabbitMQ.URL,
		"confirms", cfg.RabbitMQ.PublisherConfirms,
		"strategy", cfg.Async.BackPressureStrategy,
		"maxQueueSize", cfg.Async.MaxQueueSize,
		"batchSize", cfg.Async.BatchSize,
		"count", count,
		"exchange", exchange,
		"route", route)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	notifier := metrics.NewClient(registry, instance)

	connector := mq.NewConnector(cfg.RabbitMQ.URL, cfg.ChannelOptions(), notifier)
	if err := connector.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	defer connector.Close()

	// the queue outlives the signal so Shutdown can still drain it
	queue, err := publisher.NewAsyncQueue(context.WithoutCancel(ctx), cfg.AsyncSettings(), publisher.Deps{
		Provider: connector,
		Handler:  consumer.LogErrorHandler{},
		Notifier: notifier,
	})
	if err != nil {
		return err
	}

	health := metrics.NewHealth(queue.ConsumerAlive)
	health.SetReady(true)
	if cfg.Metrics.Enabled {
		metrics.StartServer(ctx, cfg.Metrics.Bind, registry, health,
			cfg.Metrics.Path, cfg.Metrics.LivenessPath, cfg.Metrics.ReadinessPath)
	}

	payload := randomPayload(c.Int("payload-size"))
	produced := make(chan struct{})

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error {
		defer close(produced)
		return produce(gctx, queue, count, exchange, route, payload)
	})
	g.Go(func() error {
		// a drained queue ends the run
		defer cancelRun()
		return report(gctx, queue, produced)
	})
	g.Go(func() error {
		return watchConnection(gctx, connector, health, cfg.RabbitMQ.NetworkRecoveryInterval)
	})

	err = g.Wait()
	switch {
	case errors.Is(err, context.Canceled):
		slog.Info("interrupted, draining queue")
	case err != nil:
		slog.Error("publisher failed", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Async.GracefulShutdownTimeout)
	defer cancel()
	if serr := queue.Shutdown(shutdownCtx); serr != nil {
		slog.Warn("queue not drained before shutdown", "remaining", queue.Size(), "error", serr)
	}
	slog.Info("shutdown complete")

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// produce pushes count messages. Messages rejected with ErrQueueFull are
// counted and skipped.
func produce(ctx context.Context, queue *publisher.AsyncQueue, count int, exchange, route string, payload []byte) error {
	start := time.Now()
	rejected := 0
	step := max(count/10, 1)

	for i := range count {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := queue.Publish(ctx, exchange, route, payload, nil); err != nil {
			if errors.Is(err, publisher.ErrQueueFull) {
				rejected++
				continue
			}
			return err
		}
		if (i+1)%step == 0 {
			slog.Info("pushed", "messages", i+1, "of", count)
		}
	}
	slog.Info("all messages pushed", "messages", count, "rejected", rejected, "elapsed", time.Since(start).String())
	return nil
}

// report logs the queue depth until the producer is done and the queue
// has drained.
func report(ctx context.Context, queue *publisher.AsyncQueue, produced <-chan struct{}) error {
	ticker := time.NewTicker(reportInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			size := queue.Size()
			slog.Info("async queue", "size", size, "consumerAlive", queue.ConsumerAlive())
			select {
			case <-produced:
				if size == 0 {
					return nil
				}
			default:
			}
		}
	}
}

// connectionWatcher is the part of mq.Connector watchConnection needs.
type connectionWatcher interface {
	NotifyClose(ch chan *amqp.Error) chan *amqp.Error
	Connection() (*amqp.Connection, error)
}

// watchConnection flips readiness off when the broker closes the
// connection and back on once the connector has re-dialled, which it does
// on the next publish. It runs until ctx is done.
func watchConnection(ctx context.Context, conn connectionWatcher, health *metrics.Health, poll time.Duration) error {
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		if closed := conn.NotifyClose(make(chan *amqp.Error, 1)); closed != nil {
			select {
			case <-ctx.Done():
				return nil
			case amqpErr, ok := <-closed:
				if ok {
					slog.Warn("RabbitMQ connection closed", "error", amqpErr)
				}
			}
		}
		health.SetReady(false)

		for {
			if _, err := conn.Connection(); err == nil {
				break
			}
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
		}
		health.SetReady(true)
		slog.Info("RabbitMQ connection restored")
	}
}

func randomPayload(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte('A' + rand.IntN(26))
	}
	return b
}

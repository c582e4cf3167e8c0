package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"gomq-async/config"
	"gomq-async/internal/mq"

	"github.com/urfave/cli/v2"
)

const previewBytes = 64

func main() {
	app := &cli.App{
		Name:  "tail",
		Usage: "Log every message published to an exchange",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a YAML config file",
				EnvVars: []string{"CONFIG_FILE"},
			},
			&cli.StringFlag{
				Name:    "exchange",
				Aliases: []string{"e"},
				Usage:   "Exchange to tap",
				Value:   "messages.testing",
			},
			&cli.StringFlag{
				Name:    "pattern",
				Aliases: []string{"p"},
				Usage:   "Binding pattern for the tap queue",
				Value:   "#",
			},
			&cli.BoolFlag{
				Name:  "declare",
				Usage: "Declare the exchange before binding",
				Value: true,
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg, err := config.LoadConfig(c.String("config"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	level, _ := cfg.Log.SlogLevel()
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})))

	// top-level context cancels on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	connector := mq.NewConnector(cfg.RabbitMQ.URL, cfg.ChannelOptions(), nil)
	if err := connector.Connect(ctx); err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	defer connector.Close()

	conn, err := connector.Connection()
	if err != nil {
		return err
	}
	exchange := c.String("exchange")
	tap, err := mq.OpenTap(conn, mq.TapOptions{
		Exchange:        exchange,
		Pattern:         c.String("pattern"),
		DeclareExchange: c.Bool("declare"),
		Prefetch:        cfg.RabbitMQ.PrefetchCount,
	})
	if err != nil {
		return err
	}
	defer tap.Close()

	deliveries, err := tap.Deliveries()
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}
	slog.Info("tailing", "exchange", exchange, "pattern", c.String("pattern"), "queue", tap.Queue())

	received := 0
	for {
		select {
		case <-ctx.Done():
			slog.Info("tail: signal received", "received", received)
			return nil
		case d, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("delivery channel closed after %d messages", received)
			}
			received++
			body := d.Body
			if len(body) > previewBytes {
				body = body[:previewBytes]
			}
			slog.Info("delivery",
				"exchange", d.Exchange,
				"routingKey", d.RoutingKey,
				"messageId", d.MessageId,
				"contentType", d.ContentType,
				"bytes", len(d.Body),
				"body", string(body))
		}
	}
}

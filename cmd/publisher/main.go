package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "publisher",
		Usage: "Push a burst of messages through the async queue and publish them to RabbitMQ",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a YAML config file",
				EnvVars: []string{"CONFIG_FILE"},
			},
			&cli.IntFlag{
				Name:    "count",
				Aliases: []string{"n"},
				Usage:   "Number of messages to push",
				Value:   1_000_000,
			},
			&cli.IntFlag{
				Name:    "payload-size",
				Aliases: []string{"s"},
				Usage:   "Size of each random payload in bytes",
				Value:   1000,
			},
			&cli.StringFlag{
				Name:    "exchange",
				Aliases: []string{"e"},
				Usage:   "Destination exchange",
				Value:   "messages.testing",
			},
			&cli.StringFlag{
				Name:    "route",
				Aliases: []string{"r"},
				Usage:   "Routing key",
				Value:   "actions",
			},
			&cli.StringFlag{
				Name:  "strategy",
				Usage: "Back-pressure strategy (raise, drop or wait); overrides the config",
			},
			&cli.StringFlag{
				Name:    "instance",
				Usage:   "Instance label for metrics",
				EnvVars: []string{"INSTANCE"},
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

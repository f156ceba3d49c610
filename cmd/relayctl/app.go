package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/pscheid92/relay/internal/domain"
	"github.com/pscheid92/relay/internal/event"
	"github.com/pscheid92/relay/internal/platform/logging"
	"github.com/pscheid92/relay/internal/platform/retry"
	"github.com/pscheid92/relay/internal/redis"
	"github.com/urfave/cli/v3"
)

const publishAttempts = 3

var errUsage = errors.New("usage error")

func newApp() *cli.Command {
	return &cli.Command{
		Name:  "relayctl",
		Usage: "inspect and exercise the relay's message bus",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "redis-url",
				Value:   "redis://localhost:6379",
				Usage:   "Redis connection URL",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Value: 10 * time.Second,
				Usage: "overall deadline for the command",
			},
			&cli.StringFlag{
				Name:    "log-level",
				Value:   "warn",
				Usage:   "debug, info, warn or error",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			slog.SetDefault(logging.New(cmd.ErrWriter, cmd.String("log-level"), "text"))
			return ctx, nil
		},
		Commands: []*cli.Command{
			publishCommand(),
			channelsCommand(),
		},
	}
}

func publishCommand() *cli.Command {
	return &cli.Command{
		Name:      "publish",
		Usage:     "publish a raw payload to a bus channel",
		ArgsUsage: "<payload>",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "channel",
				Aliases:  []string{"c"},
				Usage:    "bus channel to publish on",
				Required: true,
			},
			&cli.BoolFlag{
				Name:  "force",
				Usage: "publish even if the channel is unbound or the payload would be dropped",
			},
			&cli.BoolFlag{
				Name:  "no-retry",
				Usage: "fail on the first connection error",
			},
		},
		Action: runPublish,
	}
}

func runPublish(ctx context.Context, cmd *cli.Command) error {
	if cmd.Args().Len() != 1 {
		return fmt.Errorf("%w: publish takes exactly one payload argument", errUsage)
	}
	channel := cmd.String("channel")
	payload := cmd.Args().First()

	if !cmd.Bool("force") {
		if err := checkPayload(channel, payload); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithTimeout(ctx, cmd.Root().Duration("timeout"))
	defer cancel()

	client, err := redis.NewClient(cmd.Root().String("redis-url"), nil)
	if err != nil {
		return err
	}
	defer func() { _ = client.Close() }()

	policy := retry.Policy{
		MaxAttempts:    publishAttempts,
		InitialBackoff: 200 * time.Millisecond,
		MaxBackoff:     2 * time.Second,
		OnRetry: func(attempt int, err error, backoff time.Duration) {
			slog.Warn("Publish failed, retrying", "attempt", attempt, "backoff", backoff, "error", err)
		},
	}
	if cmd.Bool("no-retry") {
		policy.MaxAttempts = 1
	}

	receivers, err := retry.Do(ctx, policy, retry.Network, func(ctx context.Context) (int64, error) {
		return client.Publish(ctx, channel, payload)
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.Root().Writer, "published to %s (%d subscriber(s))\n", channel, receivers)
	return nil
}

// checkPayload rejects what the relay would drop on arrival.
func checkPayload(channel, payload string) error {
	binding := domain.DefaultChannelBinding()
	eventType, ok := binding.Resolve(channel)
	if !ok {
		return fmt.Errorf("%w: %q (bound channels: %s)", domain.ErrUnboundChannel, channel, strings.Join(binding.Channels(), ", "))
	}

	result, err := event.Normalize(payload)
	if err != nil {
		return err
	}
	if _, err := domain.NewEvent(eventType, result.Fields); err != nil {
		return err
	}
	return nil
}

func channelsCommand() *cli.Command {
	return &cli.Command{
		Name:  "channels",
		Usage: "list bus channels and the event types they carry",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "subscribers",
				Usage: "also query Redis for the current subscriber count of each channel",
			},
		},
		Action: runChannels,
	}
}

func runChannels(ctx context.Context, cmd *cli.Command) error {
	binding := domain.DefaultChannelBinding()
	channels := binding.Channels()

	var counts map[string]int64
	if cmd.Bool("subscribers") {
		ctx, cancel := context.WithTimeout(ctx, cmd.Root().Duration("timeout"))
		defer cancel()

		client, err := redis.NewClient(cmd.Root().String("redis-url"), nil)
		if err != nil {
			return err
		}
		defer func() { _ = client.Close() }()

		counts, err = client.Subscribers(ctx, channels...)
		if err != nil {
			return err
		}
	}

	w := tabwriter.NewWriter(cmd.Root().Writer, 0, 4, 2, ' ', 0)
	if counts != nil {
		fmt.Fprintln(w, "CHANNEL\tEVENT TYPE\tSUBSCRIBERS")
	} else {
		fmt.Fprintln(w, "CHANNEL\tEVENT TYPE")
	}

	bound := make(map[domain.EventType]bool, len(channels))
	for _, name := range channels {
		eventType, _ := binding.Resolve(name)
		bound[eventType] = true
		if counts != nil {
			fmt.Fprintf(w, "%s\t%s\t%d\n", name, eventType, counts[name])
		} else {
			fmt.Fprintf(w, "%s\t%s\n", name, eventType)
		}
	}
	for _, eventType := range domain.EventTypes {
		if bound[eventType] {
			continue
		}
		if counts != nil {
			fmt.Fprintf(w, "-\t%s\t-\n", eventType)
		} else {
			fmt.Fprintf(w, "-\t%s\n", eventType)
		}
	}
	return w.Flush()
}

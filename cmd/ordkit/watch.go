package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/c0deZ3R0/go-order-kit/coordinator"
	"github.com/c0deZ3R0/go-order-kit/storage/postgres"
	"github.com/c0deZ3R0/go-order-kit/transport/sse"
)

func newWatchCmd(a *app) *cobra.Command {
	var (
		eventsURL string
		pgConn    string
		channel   string
		container string
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print remote move events as JSON lines",
		Long: `Subscribes to an event stream served by "ordkit serve" (--url) or to
PostgreSQL notifications (--postgres) and prints every event.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			var feed coordinator.Feed
			switch {
			case eventsURL != "" && pgConn != "":
				return fmt.Errorf("--url and --postgres are mutually exclusive")
			case eventsURL != "":
				opts := []sse.ClientOption{sse.WithLogger(a.logger)}
				if container != "" {
					opts = append(opts, sse.WithContainer(container))
				}
				feed = sse.NewClient(eventsURL, opts...)
			case pgConn != "":
				cfg := postgres.DefaultConfig(pgConn)
				cfg.Channel = channel
				cfg.Logger = a.logger
				l, err := postgres.NewListener(cfg)
				if err != nil {
					return err
				}
				defer l.Close()
				feed = l
			default:
				return fmt.Errorf("one of --url or --postgres is required")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return watch(ctx, feed, cmd.OutOrStdout(), container)
		},
	}
	cmd.Flags().StringVar(&eventsURL, "url", "", "event stream URL, e.g. http://localhost:8080/events")
	cmd.Flags().StringVar(&pgConn, "postgres", "", "PostgreSQL connection string")
	cmd.Flags().StringVar(&channel, "channel", postgres.DefaultChannel, "PostgreSQL notification channel")
	cmd.Flags().StringVar(&container, "container", "", "only print events for this container")
	return cmd
}

func watch(ctx context.Context, feed coordinator.Feed, out io.Writer, container string) error {
	enc := json.NewEncoder(out)
	err := feed.Subscribe(ctx, func(ev coordinator.Event) error {
		if container != "" && ev.Item.ContainerID != container {
			return nil
		}
		return enc.Encode(ev)
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

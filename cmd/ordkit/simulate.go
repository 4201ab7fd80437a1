package main

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/c0deZ3R0/go-order-kit/board"
	"github.com/c0deZ3R0/go-order-kit/config"
	"github.com/c0deZ3R0/go-order-kit/coordinator"
	"github.com/c0deZ3R0/go-order-kit/metrics"
	"github.com/c0deZ3R0/go-order-kit/storage/sqlite"
)

// flakyAuthority fails its first n calls with a transient error.
type flakyAuthority struct {
	coordinator.Authority
	remaining atomic.Int64
}

func (f *flakyAuthority) Move(ctx context.Context, cmd coordinator.Command) (board.Item, error) {
	if f.remaining.Add(-1) >= 0 {
		return board.Item{}, io.ErrUnexpectedEOF
	}
	return f.Authority.Move(ctx, cmd)
}

type simulateOptions struct {
	items     int
	fail      int
	dropIndex int
	baseDelay time.Duration
}

func newSimulateCmd(a *app) *cobra.Command {
	o := simulateOptions{}
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run a move through the coordinator against a flaky authority",
		Long: `Seeds an in-memory board, moves the last item of "todo" into "doing" while
the authority fails the first --fail calls, and prints the resulting board
and the move journal.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.simulate(cmd.Context(), cmd.OutOrStdout(), o)
		},
	}
	cmd.Flags().IntVar(&o.items, "items", 4, "items seeded into the todo container")
	cmd.Flags().IntVar(&o.fail, "fail", 0, "authority calls that fail transiently before one succeeds")
	cmd.Flags().IntVar(&o.dropIndex, "index", 0, "drop index in the doing container")
	cmd.Flags().DurationVar(&o.baseDelay, "base-delay", 10*time.Millisecond, "retry base delay")
	return cmd
}

func (a *app) simulate(ctx context.Context, out io.Writer, o simulateOptions) error {
	if o.items < 1 {
		return fmt.Errorf("--items must be at least 1")
	}
	store, err := a.openStore(":memory:")
	if err != nil {
		return err
	}
	defer store.Close()

	now := time.Now().UTC()
	seed := make([]board.Item, 0, o.items+1)
	key := a.alphabet.First()
	for i := 0; i < o.items; i++ {
		seed = append(seed, board.Item{ID: fmt.Sprintf("task-%d", i+1), ContainerID: "todo", Key: key, ModifiedAt: now, ModifiedBy: "seed"})
		if key, err = a.alphabet.After(key); err != nil {
			return err
		}
	}
	seed = append(seed, board.Item{ID: "task-0", ContainerID: "doing", Key: a.alphabet.First(), ModifiedAt: now, ModifiedBy: "seed"})
	if err := store.PutItems(ctx, seed...); err != nil {
		return err
	}

	auth := &flakyAuthority{Authority: sqlite.NewAuthority(store, sqlite.WithAuthorityName("simulator"))}
	auth.remaining.Store(int64(o.fail))

	collector, err := metrics.NewPrometheusCollector(prometheus.NewRegistry())
	if err != nil {
		return err
	}
	cfg := a.cfg
	cfg.Retry.BaseDelay = config.Duration(o.baseDelay)
	c, err := coordinator.New(auth, cfg,
		coordinator.WithLogger(a.logger),
		coordinator.WithJournal(store),
		coordinator.WithMetrics(collector),
		coordinator.WithAlphabet(a.alphabet),
		coordinator.WithSession("simulator"),
	)
	if err != nil {
		return err
	}
	for _, container := range []string{"todo", "doing"} {
		if _, err := c.Refresh(ctx, store, container); err != nil {
			return err
		}
	}

	moving := seed[o.items-1].ID
	_, moveErr := c.BeginMove(ctx, coordinator.Request{ItemID: moving, TargetContainerID: "doing", DropIndex: o.dropIndex})
	if moveErr != nil {
		fmt.Fprintf(out, "move of %s failed: %v\n", moving, moveErr)
		if _, err := c.Rollback(ctx, moving); err != nil {
			return err
		}
		fmt.Fprintf(out, "rolled back %s\n", moving)
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CONTAINER\tITEM\tKEY")
	for _, container := range []string{"todo", "doing"} {
		for _, it := range c.Container(container) {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", container, it.ID, it.Key)
		}
	}
	fmt.Fprintln(tw)
	fmt.Fprintln(tw, "EVENT\tITEM\tREASON")
	history, err := store.History(ctx, "")
	if err != nil {
		return err
	}
	for _, e := range history {
		reason := e.Reason
		if e.Error != "" {
			reason = e.Error
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", e.Event, e.ItemID, reason)
	}
	return tw.Flush()
}

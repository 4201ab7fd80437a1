package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/c0deZ3R0/go-order-kit/board"
	"github.com/c0deZ3R0/go-order-kit/orderkey"
	"github.com/c0deZ3R0/go-order-kit/position"
)

func newRebalanceCmd(a *app) *cobra.Command {
	var (
		db        string
		container string
		force     bool
	)
	cmd := &cobra.Command{
		Use:   "rebalance",
		Short: "Reassign evenly spaced keys to a crowded container",
		Long: `Reads "id key" lines from stdin, or the items of --container from --db,
and prints fresh keys in order when the keys are too long or too close
together. With --db the new keys are written back.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			resolver, err := position.NewResolver(a.alphabet, a.cfg)
			if err != nil {
				return err
			}

			var items []board.Item
			if db != "" {
				if container == "" {
					return fmt.Errorf("--container is required with --db")
				}
				store, err := a.openStore(db)
				if err != nil {
					return err
				}
				defer store.Close()
				if items, err = store.Snapshot(cmd.Context(), container); err != nil {
					return err
				}
				keys := rebalanceKeys(resolver, items, force)
				if keys == nil {
					fmt.Fprintln(cmd.OutOrStdout(), "keys are healthy")
					return nil
				}
				now := time.Now().UTC()
				for i := range items {
					items[i] = items[i].Moved(items[i].ContainerID, keys[items[i].ID], now, "ordkit")
				}
				if err := store.PutItems(cmd.Context(), items...); err != nil {
					return err
				}
				printKeys(cmd.OutOrStdout(), a.alphabet, keys)
				return nil
			}

			if items, err = readEntries(cmd.InOrStdin()); err != nil {
				return err
			}
			keys := rebalanceKeys(resolver, items, force)
			if keys == nil {
				fmt.Fprintln(cmd.OutOrStdout(), "keys are healthy")
				return nil
			}
			printKeys(cmd.OutOrStdout(), a.alphabet, keys)
			return nil
		},
	}
	cmd.Flags().StringVar(&db, "db", "", "SQLite data source to rebalance in place")
	cmd.Flags().StringVar(&container, "container", "", "container to rebalance (with --db)")
	cmd.Flags().BoolVar(&force, "force", false, "rebalance even when the keys are healthy")
	return cmd
}

func rebalanceKeys(r *position.Resolver, items []board.Item, force bool) map[string]orderkey.Key {
	if force && len(items) > 0 {
		return r.Alphabet().Distribute(board.Entries(items))
	}
	return r.Rebalance(items)
}

func readEntries(in io.Reader) ([]board.Item, error) {
	var items []board.Item
	sc := bufio.NewScanner(in)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Fields(text)
		if len(fields) != 2 {
			return nil, fmt.Errorf("line %d: want \"id key\", got %q", line, text)
		}
		items = append(items, board.Item{ID: fields[0], Key: orderkey.Key(fields[1])})
	}
	return items, sc.Err()
}

func printKeys(w io.Writer, a *orderkey.Alphabet, keys map[string]orderkey.Key) {
	entries := make([]orderkey.Entry, 0, len(keys))
	for id, k := range keys {
		entries = append(entries, orderkey.Entry{ID: id, Key: k})
	}
	a.SortEntries(entries)
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\n", e.ID, e.Key)
	}
}

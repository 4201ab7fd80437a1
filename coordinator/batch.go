package coordinator

import (
	"context"
	"fmt"
	"sort"

	"github.com/c0deZ3R0/go-order-kit/board"
	kiterr "github.com/c0deZ3R0/go-order-kit/errors"
)

// BeginBatchMove applies several moves against one consistent snapshot and
// submits them in a single batch call. Requests are planned in ascending
// drop index order so later insertions see the earlier ones. The batch is
// all-or-nothing: any failure marks every move failed. Results are returned
// in request order.
func (c *Coordinator) BeginBatchMove(ctx context.Context, reqs []Request) ([]board.Item, error) {
	if c.batch == nil {
		return nil, kiterr.E(kiterr.OpBatchMove, kiterr.Component("coordinator"), kiterr.ErrCodeTerminal, kiterr.KindInvalid,
			"no batch authority configured")
	}
	if len(reqs) == 0 {
		return nil, nil
	}
	seen := make(map[string]struct{}, len(reqs))
	for _, r := range reqs {
		if _, dup := seen[r.ItemID]; dup {
			return nil, kiterr.E(kiterr.OpBatchMove, kiterr.Component("coordinator"), kiterr.ErrCodeTerminal, kiterr.KindInvalid,
				fmt.Sprintf("item %q appears twice in batch", r.ItemID))
		}
		seen[r.ItemID] = struct{}{}
	}

	order := make([]int, len(reqs))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return reqs[order[a]].DropIndex < reqs[order[b]].DropIndex })

	start := c.now()
	c.mu.Lock()
	working := c.state.Clone()
	plans := make([]plan, len(reqs))
	for _, i := range order {
		p, err := c.plan(working, reqs[i], start)
		if err != nil {
			c.mu.Unlock()
			return nil, kiterr.E(kiterr.OpBatchMove, kiterr.Component("coordinator"), err,
				fmt.Sprintf("batch move %d (item %q)", i, reqs[i].ItemID))
		}
		working.Put(p.after)
		plans[i] = p
	}

	batchID := c.newID()
	moves := make([]*PendingMove, len(reqs))
	cmds := make([]Command, len(reqs))
	var superseded []JournalEntry
	for i, p := range plans {
		pm, sup := c.open(p, batchID)
		superseded = append(superseded, sup...)
		moves[i] = pm
		cmds[i] = Command{
			MoveID:            pm.ID,
			ItemID:            pm.ItemID,
			TargetContainerID: pm.After.ContainerID,
			Key:               pm.After.Key,
			ValidateOrdering:  p.validate,
		}
	}
	c.mu.Unlock()

	c.record(ctx, superseded...)
	c.logger.DebugContext(ctx, "batch applied optimistically", "batch_id", batchID, "moves", len(moves))

	return c.settle(ctx, kiterr.OpBatchMove, moves, start, func(ctx context.Context) ([]board.Item, error) {
		out, err := c.batch.MoveBatch(ctx, cmds)
		if err != nil {
			return nil, err
		}
		if len(out) != len(cmds) {
			return nil, kiterr.NewTerminalError(kiterr.OpBatchMove,
				fmt.Errorf("authority returned %d items for %d moves", len(out), len(cmds)))
		}
		return alignResults(moves, out), nil
	})
}

// alignResults orders authority results like moves, matching by item id and
// falling back to position.
func alignResults(moves []*PendingMove, results []board.Item) []board.Item {
	byID := make(map[string]board.Item, len(results))
	for _, r := range results {
		if r.ID != "" {
			byID[r.ID] = r
		}
	}
	out := make([]board.Item, len(moves))
	for i, m := range moves {
		if r, ok := byID[m.ItemID]; ok {
			out[i] = r
			continue
		}
		out[i] = results[i]
	}
	return out
}

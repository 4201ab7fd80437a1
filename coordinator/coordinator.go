// Package coordinator applies item moves optimistically and reconciles them
// with a remote authority.
//
// A move is applied to local state at once and tracked as a PendingMove
// while the authority is called. Transient failures are retried with a
// linearly growing delay; terminal failures leave the move failed until the
// caller rolls it back or moves the item again. Remote events for items with
// a pending or recently settled version go through conflict resolution.
//
// A second move for an item whose move is still open supersedes it: the new
// record inherits the original pre-move snapshot, the older retry loop stops,
// and a late response for the older move is ignored because settlement is
// checked by move id.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/c0deZ3R0/go-order-kit/board"
	"github.com/c0deZ3R0/go-order-kit/config"
	kiterr "github.com/c0deZ3R0/go-order-kit/errors"
	"github.com/c0deZ3R0/go-order-kit/logging"
	"github.com/c0deZ3R0/go-order-kit/orderkey"
	"github.com/c0deZ3R0/go-order-kit/position"
)

type settledVersion struct {
	item board.Item
	at   time.Time
}

// Coordinator owns the local item state of one board session. All methods
// are safe for concurrent use; the internal mutex is never held across an
// authority call or a retry wait.
type Coordinator struct {
	cfg       config.Ordering
	alphabet  *orderkey.Alphabet
	positions *position.Resolver
	authority Authority
	batch     BatchAuthority
	resolver  ConflictResolver
	logger    *logging.Logger
	metrics   MetricsCollector
	journal   Journal
	session   string
	now       func() time.Time
	sleep     func(context.Context, time.Duration) error

	mu      sync.Mutex
	state   *board.State
	pending map[string]*PendingMove // by item id
	settled map[string]settledVersion
}

// New creates a Coordinator calling authority for every move.
func New(authority Authority, cfg config.Ordering, opts ...Option) (*Coordinator, error) {
	const op = "coordinator.New"

	if authority == nil {
		return nil, kiterr.E(kiterr.Op(op), kiterr.Component("coordinator"), kiterr.KindInvalid,
			"authority is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Coordinator{
		cfg:       cfg,
		authority: authority,
		logger:    logging.Discard(),
		metrics:   NoOpMetricsCollector{},
		journal:   nopJournal{},
		session:   "local",
		now:       time.Now,
		sleep:     sleepContext,
		pending:   make(map[string]*PendingMove),
		settled:   make(map[string]settledVersion),
	}
	for _, opt := range opts {
		opt(c)
	}

	var err error
	if c.alphabet == nil {
		if c.alphabet, err = cfg.NewAlphabet(); err != nil {
			return nil, err
		}
	}
	if c.resolver == nil {
		if c.resolver, err = NewConflictResolver(cfg.ConflictStrategy, cfg.UserPriorities); err != nil {
			return nil, err
		}
	}
	if c.positions, err = position.NewResolver(c.alphabet, cfg); err != nil {
		return nil, err
	}
	c.state = board.NewState(c.alphabet)
	c.logger = c.logger.WithComponent("coordinator").WithAttrs(slog.String("session", c.session))
	return c, nil
}

// Seed loads items into local state, replacing records with the same id.
func (c *Coordinator) Seed(items ...board.Item) error {
	for _, it := range items {
		if it.ID == "" || it.ContainerID == "" || !c.alphabet.IsValid(it.Key) {
			return kiterr.E(kiterr.OpLoad, kiterr.Component("coordinator"), kiterr.ErrCodeValidation, kiterr.KindInvalid,
				fmt.Sprintf("invalid item %q (container %q, key %q)", it.ID, it.ContainerID, it.Key))
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, it := range items {
		c.state.Put(it)
	}
	return nil
}

// Item returns the local version of an item.
func (c *Coordinator) Item(id string) (board.Item, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Get(id)
}

// Container returns the sorted local view of a container.
func (c *Coordinator) Container(id string) []board.Item {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Container(id)
}

// Items returns every local item.
func (c *Coordinator) Items() []board.Item {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Items()
}

// Pending returns a copy of the open move for an item.
func (c *Coordinator) Pending(itemID string) (PendingMove, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	pm, ok := c.pending[itemID]
	if !ok {
		return PendingMove{}, false
	}
	return *pm, true
}

// PendingMoves returns copies of every tracked move, oldest first.
func (c *Coordinator) PendingMoves() []PendingMove {
	c.mu.Lock()
	out := make([]PendingMove, 0, len(c.pending))
	for _, pm := range c.pending {
		out = append(out, *pm)
	}
	c.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// plan is a computed but not yet applied move.
type plan struct {
	before     board.Item
	after      board.Item
	confidence board.Confidence
	validate   bool
}

// plan computes the optimistic item for req against st. When the item
// already sits at the requested index of the target container its key is
// kept and only the timestamp changes.
func (c *Coordinator) plan(st *board.State, req Request, at time.Time) (plan, error) {
	item, ok := st.Get(req.ItemID)
	if !ok {
		return plan{}, kiterr.E(kiterr.OpMove, kiterr.Component("coordinator"), kiterr.ErrCodeTerminal, kiterr.KindNotFound,
			fmt.Sprintf("unknown item %q", req.ItemID))
	}
	if req.TargetContainerID == "" {
		return plan{}, kiterr.E(kiterr.OpMove, kiterr.Component("coordinator"), kiterr.ErrCodeTerminal, kiterr.KindInvalid,
			fmt.Sprintf("move of item %q has no target container", req.ItemID))
	}

	siblings := st.Container(req.TargetContainerID)
	if item.ContainerID == req.TargetContainerID {
		if idx := indexOf(siblings, item.ID); idx >= 0 && clamp(req.DropIndex, 0, len(siblings)-1) == idx {
			return plan{
				before:     item,
				after:      item.Moved(item.ContainerID, item.Key, at, c.session),
				confidence: board.ConfidenceHigh,
			}, nil
		}
	}

	drop, err := c.positions.ResolveDropKey(siblings, req.DropIndex, item.ID)
	if err != nil {
		return plan{}, err
	}
	return plan{
		before:     item,
		after:      item.Moved(req.TargetContainerID, drop.Key, at, c.session),
		confidence: drop.Confidence,
		validate:   drop.NeedsServerValidation,
	}, nil
}

// open records a PendingMove for p and applies it to local state. Callers
// hold c.mu.
func (c *Coordinator) open(p plan, batchID string) (*PendingMove, []JournalEntry) {
	before := p.before
	var entries []JournalEntry
	if prev, ok := c.pending[p.before.ID]; ok && prev.open() {
		before = prev.Before
		prev.Status = StatusSuperseded
		entries = append(entries, c.entry(prev, JournalSuperseded, "replaced by a newer move", nil))
		c.metrics.RecordMoveOutcome(string(kiterr.OpMove), StatusSuperseded)
	}

	pm := &PendingMove{
		ID:         c.newID(),
		BatchID:    batchID,
		ItemID:     p.before.ID,
		Before:     before,
		After:      p.after,
		CreatedAt:  p.after.ModifiedAt,
		Confidence: p.confidence,
		Status:     StatusPending,
	}
	c.pending[pm.ItemID] = pm
	c.state.Put(pm.After)
	c.metrics.RecordPending(len(c.pending))
	return pm, entries
}

// BeginMove applies req optimistically and submits it to the authority. It
// returns the settled item, which is the authority's version when it
// differs from the optimistic one. On a terminal error, or once retries are
// exhausted, the move stays failed and local state keeps the optimistic
// item until Rollback.
func (c *Coordinator) BeginMove(ctx context.Context, req Request) (board.Item, error) {
	start := c.now()

	c.mu.Lock()
	p, err := c.plan(c.state, req, start)
	if err != nil {
		c.mu.Unlock()
		c.logger.LogError(ctx, err, "move rejected", slog.String("item_id", req.ItemID))
		return board.Item{}, err
	}
	pm, superseded := c.open(p, "")
	cmd := Command{
		MoveID:            pm.ID,
		ItemID:            pm.ItemID,
		TargetContainerID: pm.After.ContainerID,
		Key:               pm.After.Key,
		ValidateOrdering:  p.validate,
	}
	c.mu.Unlock()

	c.record(ctx, superseded...)
	c.logger.DebugContext(ctx, "move applied optimistically",
		"move_id", pm.ID, "item", pm.After, "confidence", pm.Confidence)

	out, err := c.settle(ctx, kiterr.OpMove, []*PendingMove{pm}, start, func(ctx context.Context) ([]board.Item, error) {
		result, err := c.authority.Move(ctx, cmd)
		if err != nil {
			return nil, err
		}
		return []board.Item{result}, nil
	})
	if err != nil {
		return board.Item{}, err
	}
	return out[0], nil
}

// settle submits moves through call, retrying transient failures, and then
// confirms or fails them. The exchange is logged as one operation.
func (c *Coordinator) settle(ctx context.Context, op kiterr.Operation, moves []*PendingMove, start time.Time,
	call func(context.Context) ([]board.Item, error)) ([]board.Item, error) {
	var out []board.Item
	err := c.logger.LogOperation(ctx, logging.Operation(op), "", func() error {
		var results []board.Item
		err := c.withRetry(ctx, op, moves, func(ctx context.Context) error {
			var err error
			results, err = call(ctx)
			return err
		})
		if err != nil {
			return c.fail(ctx, op, moves, err, start)
		}
		out, err = c.confirm(ctx, op, moves, results, start)
		return err
	})
	return out, err
}

// withRetry calls fn until it succeeds, fails terminally or runs out of
// attempts. It stops early once none of moves is current any more.
func (c *Coordinator) withRetry(ctx context.Context, op kiterr.Operation, moves []*PendingMove, fn func(context.Context) error) error {
	for attempt := 1; ; attempt++ {
		if !c.anyCurrent(moves) {
			return kiterr.NewSupersededError(op, moves[0].ID)
		}

		c.logger.Trace(ctx, "calling authority", "op", op, "attempt", attempt, "moves", len(moves))
		err := kiterr.Classify(op, fn(ctx))
		if err == nil {
			if attempt > 1 {
				c.logger.InfoContext(ctx, "authority call succeeded after retry", "attempt", attempt)
			}
			return nil
		}
		if !kiterr.IsTransient(err) {
			c.logger.DebugContext(ctx, "authority call failed with terminal error", "attempt", attempt, "error", err)
			return err
		}
		if attempt >= c.cfg.Retry.MaxAttempts {
			c.logger.ErrorContext(ctx, "all retry attempts exhausted", "total_attempts", attempt, "final_error", err)
			return err
		}

		delay := c.cfg.Retry.Delay(attempt)
		c.markRetry(moves, attempt)
		c.metrics.RecordRetry(string(op), attempt)
		c.logger.WarnContext(ctx, "authority call failed with transient error, retrying",
			"attempt", attempt, "delay", delay, "error", err)

		if serr := c.sleep(ctx, delay); serr != nil {
			c.logger.WarnContext(ctx, "retry sequence canceled by context", "error", serr)
			return kiterr.E(op, kiterr.Component("coordinator"), err, "retry canceled: "+serr.Error())
		}
	}
}

func (c *Coordinator) isCurrent(m *PendingMove) bool {
	pm, ok := c.pending[m.ItemID]
	return ok && pm.ID == m.ID
}

func (c *Coordinator) anyCurrent(moves []*PendingMove) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range moves {
		if c.isCurrent(m) {
			return true
		}
	}
	return false
}

func (c *Coordinator) markRetry(moves []*PendingMove, attempt int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range moves {
		if c.isCurrent(m) {
			m.RetryCount = attempt
		}
	}
}

// confirm settles successful moves. Moves that are no longer current are
// left alone: their results arrived too late.
func (c *Coordinator) confirm(ctx context.Context, op kiterr.Operation, moves []*PendingMove, results []board.Item, start time.Time) ([]board.Item, error) {
	out := make([]board.Item, len(moves))
	var entries []JournalEntry
	live := 0

	c.mu.Lock()
	for i, m := range moves {
		if !c.isCurrent(m) {
			out[i], _ = c.state.Get(m.ItemID)
			continue
		}
		live++
		final, reason := c.reconcile(ctx, m.After, results[i])
		m.Status = StatusConfirmed
		delete(c.pending, m.ItemID)
		c.state.Put(final)
		c.settled[m.ItemID] = settledVersion{item: final, at: c.now()}
		out[i] = final

		e := c.entry(m, JournalConfirmed, reason, nil)
		e.After = final
		entries = append(entries, e)
	}
	c.metrics.RecordPending(len(c.pending))
	c.mu.Unlock()

	c.record(ctx, entries...)
	if live == 0 {
		c.logger.DebugContext(ctx, "ignoring late authority response", "move_id", moves[0].ID)
		return nil, kiterr.NewSupersededError(op, moves[0].ID)
	}
	c.metrics.RecordMoveDuration(string(op), c.now().Sub(start))
	c.metrics.RecordMoveOutcome(string(op), StatusConfirmed)
	c.logger.DebugContext(ctx, "move confirmed", "move_id", moves[0].ID, "moves", live)
	return out, nil
}

// reconcile picks the item to keep after a successful authority call.
func (c *Coordinator) reconcile(ctx context.Context, optimistic, authoritative board.Item) (board.Item, string) {
	if authoritative.ID == "" {
		return optimistic, "confirmed"
	}
	if authoritative.ID != optimistic.ID || authoritative.ContainerID == "" || !c.alphabet.IsValid(authoritative.Key) {
		c.logger.WarnContext(ctx, "authority returned an unusable item, keeping optimistic version",
			"optimistic", optimistic, "authoritative", authoritative)
		return optimistic, "confirmed, authority item unusable"
	}
	if authoritative.ModifiedAt.IsZero() {
		authoritative.ModifiedAt = optimistic.ModifiedAt
	}
	if authoritative.ModifiedBy == "" {
		authoritative.ModifiedBy = optimistic.ModifiedBy
	}
	if authoritative.Payload == nil {
		authoritative.Payload = optimistic.Payload
	}
	if authoritative.Key != optimistic.Key || authoritative.ContainerID != optimistic.ContainerID {
		return authoritative, "reconciled to authority key"
	}
	return authoritative, "confirmed"
}

// fail marks current moves failed and returns the error to surface.
func (c *Coordinator) fail(ctx context.Context, op kiterr.Operation, moves []*PendingMove, cause error, start time.Time) error {
	if kiterr.IsSuperseded(cause) {
		return cause
	}

	var entries []JournalEntry
	live := 0
	c.mu.Lock()
	for _, m := range moves {
		if !c.isCurrent(m) {
			continue
		}
		live++
		m.Status = StatusFailed
		entries = append(entries, c.entry(m, JournalFailed, "authority call failed", cause))
	}
	c.mu.Unlock()

	c.record(ctx, entries...)
	if live == 0 {
		return kiterr.NewSupersededError(op, moves[0].ID)
	}
	c.metrics.RecordMoveDuration(string(op), c.now().Sub(start))
	c.metrics.RecordMoveOutcome(string(op), StatusFailed)
	c.logger.WarnContext(ctx, "move failed", "move_id", moves[0].ID, "moves", live, "error", cause)
	return cause
}

// Rollback restores the pre-move snapshot of an item's open move and
// discards the record. Without an open move it returns a RollbackNotFound
// error and changes nothing.
func (c *Coordinator) Rollback(ctx context.Context, itemID string) (board.Item, error) {
	c.mu.Lock()
	pm, ok := c.pending[itemID]
	if !ok {
		c.mu.Unlock()
		c.logger.WarnContext(ctx, "rollback requested without pending move", "item_id", itemID)
		return board.Item{}, kiterr.NewRollbackNotFound(itemID)
	}
	entry := c.rollbackLocked(pm)
	c.mu.Unlock()

	c.record(ctx, entry)
	c.logger.InfoContext(ctx, "move rolled back", "move_id", pm.ID, "item", pm.Before)
	return pm.Before, nil
}

// RollbackAll rolls back every pending or failed move and returns the
// restored items ordered by id.
func (c *Coordinator) RollbackAll(ctx context.Context) []board.Item {
	c.mu.Lock()
	var moves []*PendingMove
	for _, pm := range c.pending {
		if pm.open() {
			moves = append(moves, pm)
		}
	}
	sort.Slice(moves, func(i, j int) bool { return moves[i].ItemID < moves[j].ItemID })
	entries := make([]JournalEntry, 0, len(moves))
	restored := make([]board.Item, 0, len(moves))
	for _, pm := range moves {
		entries = append(entries, c.rollbackLocked(pm))
		restored = append(restored, pm.Before)
	}
	c.mu.Unlock()

	c.record(ctx, entries...)
	if len(restored) > 0 {
		c.logger.WarnContext(ctx, "rolled back all open moves", "count", len(restored))
	}
	return restored
}

func (c *Coordinator) rollbackLocked(pm *PendingMove) JournalEntry {
	c.state.Put(pm.Before)
	pm.Status = StatusRolledBack
	delete(c.pending, pm.ItemID)
	delete(c.settled, pm.ItemID)
	c.metrics.RecordMoveOutcome(string(kiterr.OpRollback), StatusRolledBack)
	c.metrics.RecordPending(len(c.pending))
	return c.entry(pm, JournalRolledBack, "rolled back", nil)
}

// Cleanup purges move records older than maxAge whatever their status, and
// forgets settled versions older than maxAge. Local state is not touched.
// It returns the number of purged moves.
func (c *Coordinator) Cleanup(ctx context.Context, maxAge time.Duration) int {
	c.mu.Lock()
	now := c.now()
	var entries []JournalEntry
	for id, pm := range c.pending {
		if now.Sub(pm.CreatedAt) > maxAge {
			delete(c.pending, id)
			entries = append(entries, c.entry(pm, JournalExpired, fmt.Sprintf("older than %s", maxAge), nil))
		}
	}
	for id, s := range c.settled {
		if now.Sub(s.at) > maxAge {
			delete(c.settled, id)
		}
	}
	c.metrics.RecordPending(len(c.pending))
	c.mu.Unlock()

	c.record(ctx, entries...)
	if len(entries) > 0 {
		c.logger.WarnContext(ctx, "purged stale pending moves", "count", len(entries), "max_age", maxAge)
	}
	return len(entries)
}

// Run calls Cleanup with the configured maximum age every cleanup interval
// until ctx is done.
func (c *Coordinator) Run(ctx context.Context) error {
	interval := c.cfg.CleanupInterval.Std()
	if interval <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.Cleanup(ctx, c.cfg.PendingMaxAge.Std())
		}
	}
}

func (c *Coordinator) newID() string {
	return ulid.MustNew(ulid.Timestamp(c.now()), ulid.DefaultEntropy()).String()
}

func (c *Coordinator) entry(pm *PendingMove, ev JournalEvent, reason string, err error) JournalEntry {
	e := JournalEntry{
		ID:     c.newID(),
		MoveID: pm.ID,
		ItemID: pm.ItemID,
		Event:  ev,
		Before: pm.Before,
		After:  pm.After,
		Reason: reason,
		At:     c.now(),
	}
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

func (c *Coordinator) record(ctx context.Context, entries ...JournalEntry) {
	for _, e := range entries {
		if err := c.journal.Record(ctx, e); err != nil {
			c.logger.LogError(ctx, err, "journal write failed",
				slog.String("item_id", e.ItemID), slog.String("event", string(e.Event)))
		}
	}
}

func indexOf(items []board.Item, id string) int {
	for i, it := range items {
		if it.ID == id {
			return i
		}
	}
	return -1
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

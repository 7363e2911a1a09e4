package audit

import (
	"context"
	"time"

	"go.uber.org/zap"

	"recipeshare/services/rs-realtime/internal/metrics"
	"recipeshare/services/rs-realtime/internal/queue"
	"recipeshare/services/rs-realtime/internal/repo"
)

// RecipeStore is the storage surface the consumer needs.
type RecipeStore interface {
	Get(ctx context.Context, id int64) (*repo.Recipe, error)
	UpdateStatus(ctx context.Context, id int64, status int, reason string) error
	Steps(ctx context.Context, recipeID int64) ([]string, error)
}

// ProfileSource resolves author display data for notifications.
type ProfileSource interface {
	Profile(ctx context.Context, uid int64) (*repo.Profile, error)
}

// Notifier is the outbound side; every call is best-effort.
type Notifier interface {
	AuditPassed(authorUID, recipeID int64, recipeTitle string)
	AuditRejected(authorUID, recipeID int64, recipeTitle, reason string)
	PendingRecipe(ctx context.Context, recipeID int64, recipeTitle string, author *repo.Profile)
}

// AuditLog is the durable-log surface (see internal/queue).
type AuditLog interface {
	Ensure(ctx context.Context)
	Read(ctx context.Context, count int64, block time.Duration) ([]queue.Record, error)
	Ack(ctx context.Context, id string) error
}

// outcome tags what the polling loop should do with a record. Only
// retry leaves the record on the pending list; everything else is
// acknowledged, including drops.
type outcome int

const (
	outcomeAck outcome = iota
	outcomeRetry
)

type Options struct {
	Tick  time.Duration
	Batch int64
	Block time.Duration
}

func (o Options) withDefaults() Options {
	if o.Tick <= 0 {
		o.Tick = 1 * time.Second
	}
	if o.Batch <= 0 {
		o.Batch = 10
	}
	if o.Block <= 0 {
		o.Block = 200 * time.Millisecond
	}
	return o
}

// Consumer polls the audit stream, screens queued submissions and
// moves their lifecycle state. One cycle runs at a time; order within
// a cycle follows read order.
type Consumer struct {
	logStream AuditLog
	recipes   RecipeStore
	users     ProfileSource
	notifier  Notifier
	gate      *Gate
	log       *zap.Logger
	opts      Options

	stop chan struct{}
	done chan struct{}
}

func NewConsumer(logStream AuditLog, recipes RecipeStore, users ProfileSource, notifier Notifier, gate *Gate, log *zap.Logger, opts Options) *Consumer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Consumer{
		logStream: logStream,
		recipes:   recipes,
		users:     users,
		notifier:  notifier,
		gate:      gate,
		log:       log,
		opts:      opts.withDefaults(),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start ensures the stream/group exist and kicks off the polling loop.
// Cycles never overlap: the next tick waits for runOnce to return.
func (c *Consumer) Start(ctx context.Context) {
	c.logStream.Ensure(ctx)
	go func() {
		defer close(c.done)
		t := time.NewTicker(c.opts.Tick)
		defer t.Stop()
		for {
			select {
			case <-c.stop:
				return
			case <-t.C:
				c.runOnce(ctx)
			}
		}
	}()
}

// Stop abandons the loop after the current cycle and waits for it.
func (c *Consumer) Stop() {
	close(c.stop)
	<-c.done
}

func (c *Consumer) runOnce(ctx context.Context) {
	recs, err := c.logStream.Read(ctx, c.opts.Batch, c.opts.Block)
	if err != nil {
		c.log.Error("audit stream read failed", zap.Error(err))
		return
	}
	for _, rec := range recs {
		switch c.handle(ctx, rec) {
		case outcomeAck:
			if err := c.logStream.Ack(ctx, rec.ID); err != nil {
				c.log.Warn("audit record ack failed", zap.String("record_id", rec.ID), zap.Error(err))
			}
		case outcomeRetry:
			metrics.AuditRetried.Inc()
			// leave unacked: the pending list redelivers it
		}
	}
}

// handle runs one record through the screening state machine. Retry is
// reserved for transient storage failures; the status guard makes a
// redelivered, already-settled record a no-op.
func (c *Consumer) handle(ctx context.Context, rec queue.Record) outcome {
	if rec.IsInit() {
		c.log.Debug("skipping bootstrap record", zap.String("record_id", rec.ID))
		metrics.AuditSkipped.Inc()
		return outcomeAck
	}

	recipeID, userID, err := rec.Submission()
	if err != nil {
		c.log.Warn("dropping malformed audit record",
			zap.String("record_id", rec.ID), zap.Any("values", rec.Values), zap.Error(err))
		metrics.AuditSkipped.Inc()
		return outcomeAck
	}

	rcp, err := c.recipes.Get(ctx, recipeID)
	if err != nil {
		c.log.Error("recipe load failed", zap.Int64("recipe_id", recipeID), zap.Error(err))
		return outcomeRetry
	}
	if rcp == nil {
		c.log.Warn("recipe gone before screening, dropping record",
			zap.String("record_id", rec.ID), zap.Int64("recipe_id", recipeID))
		metrics.AuditSkipped.Inc()
		return outcomeAck
	}
	if rcp.Status != repo.RecipeStatusScreening {
		c.log.Debug("recipe no longer awaiting screening, dropping record",
			zap.Int64("recipe_id", recipeID), zap.Int("status", rcp.Status))
		metrics.AuditSkipped.Inc()
		return outcomeAck
	}

	steps, err := c.recipes.Steps(ctx, recipeID)
	if err != nil {
		c.log.Error("recipe steps load failed", zap.Int64("recipe_id", recipeID), zap.Error(err))
		return outcomeRetry
	}

	res := c.gate.Check(rcp.Title, rcp.Description, steps)
	if !res.Passed {
		if err := c.recipes.UpdateStatus(ctx, recipeID, repo.RecipeStatusDraft, res.Reason); err != nil {
			c.log.Error("recipe reject persist failed", zap.Int64("recipe_id", recipeID), zap.Error(err))
			return outcomeRetry
		}
		c.notifier.AuditRejected(userID, recipeID, rcp.Title, res.Reason)
		c.log.Info("submission returned to draft",
			zap.Int64("recipe_id", recipeID), zap.String("reason", res.Reason))
		metrics.AuditRejected.Inc()
		metrics.AuditProcessed.Inc()
		return outcomeAck
	}

	if err := c.recipes.UpdateStatus(ctx, recipeID, repo.RecipeStatusPendingReview, ""); err != nil {
		c.log.Error("recipe approve persist failed", zap.Int64("recipe_id", recipeID), zap.Error(err))
		return outcomeRetry
	}

	// Author profile enriches the moderator fan-out; failure here must
	// not undo an already-persisted transition.
	author, err := c.users.Profile(ctx, userID)
	if err != nil {
		c.log.Warn("author profile lookup failed", zap.Int64("uid", userID), zap.Error(err))
	}
	c.notifier.AuditPassed(userID, recipeID, rcp.Title)
	c.notifier.PendingRecipe(ctx, recipeID, rcp.Title, author)

	c.log.Info("submission passed screening", zap.Int64("recipe_id", recipeID))
	metrics.AuditPassed.Inc()
	metrics.AuditProcessed.Inc()
	return outcomeAck
}

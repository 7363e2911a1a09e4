// Package queue wraps the durable audit log: a Redis Stream consumed
// through a competing-consumer group with per-record acknowledgment.
package queue

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	fieldRecipeID = "recipe_id"
	fieldUserID   = "user_id"
	fieldInit     = "init"
)

// Record is one entry read from the stream. The record ID is the
// stream-assigned ordered identifier; Values stay raw until parsed.
type Record struct {
	ID     string
	Values map[string]interface{}
}

// IsInit reports whether this is the bootstrap sentinel written when
// the stream was first created.
func (r Record) IsInit() bool {
	_, ok := r.Values[fieldInit]
	return ok
}

// Submission extracts the recipe/user ids of a submission record.
func (r Record) Submission() (recipeID, userID int64, err error) {
	recipeID, err = fieldInt64(r.Values, fieldRecipeID)
	if err != nil {
		return 0, 0, err
	}
	userID, err = fieldInt64(r.Values, fieldUserID)
	if err != nil {
		return 0, 0, err
	}
	return recipeID, userID, nil
}

func fieldInt64(values map[string]interface{}, key string) (int64, error) {
	v, ok := values[key]
	if !ok {
		return 0, errors.New("missing field " + key)
	}
	s, ok := v.(string)
	if !ok {
		return 0, errors.New("non-string field " + key)
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil || n <= 0 {
		return 0, errors.New("bad value for field " + key)
	}
	return n, nil
}

// Publisher appends submission events to the audit stream. The API
// layer calls this when a recipe is handed over for screening.
type Publisher struct {
	cli    *redis.Client
	stream string
}

func NewPublisher(cli *redis.Client, stream string) *Publisher {
	return &Publisher{cli: cli, stream: stream}
}

// EnqueueRecipe appends one submission record and returns its
// stream-assigned id.
func (p *Publisher) EnqueueRecipe(ctx context.Context, recipeID, userID int64) (string, error) {
	return p.cli.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		Values: map[string]interface{}{
			fieldRecipeID: strconv.FormatInt(recipeID, 10),
			fieldUserID:   strconv.FormatInt(userID, 10),
		},
	}).Result()
}

// GroupReader reads the stream on behalf of one named consumer in a
// competing-consumer group and acknowledges records individually.
type GroupReader struct {
	cli      *redis.Client
	stream   string
	group    string
	consumer string
	log      *zap.Logger
}

func NewGroupReader(cli *redis.Client, stream, group, consumer string, log *zap.Logger) *GroupReader {
	if log == nil {
		log = zap.NewNop()
	}
	return &GroupReader{cli: cli, stream: stream, group: group, consumer: consumer, log: log}
}

// Ensure makes startup idempotent: create the stream with a bootstrap
// sentinel if it does not exist yet, then create the group at the
// start of the log. An already-existing group is benign; any other
// creation error is a warning only, never fatal.
func (g *GroupReader) Ensure(ctx context.Context) {
	n, err := g.cli.Exists(ctx, g.stream).Result()
	if err != nil {
		g.log.Warn("stream existence check failed", zap.String("stream", g.stream), zap.Error(err))
	} else if n == 0 {
		id, err := g.cli.XAdd(ctx, &redis.XAddArgs{
			Stream: g.stream,
			Values: map[string]interface{}{fieldInit: "1"},
		}).Result()
		if err != nil {
			g.log.Warn("stream bootstrap failed", zap.String("stream", g.stream), zap.Error(err))
		} else {
			g.log.Info("audit stream created", zap.String("stream", g.stream), zap.String("init_id", id))
		}
	}

	err = g.cli.XGroupCreateMkStream(ctx, g.stream, g.group, "0").Err()
	if err == nil {
		g.log.Info("consumer group created", zap.String("group", g.group))
		return
	}
	if isBusyGroup(err) {
		g.log.Debug("consumer group already exists", zap.String("group", g.group))
		return
	}
	g.log.Warn("consumer group create failed", zap.String("group", g.group), zap.Error(err))
}

// Read returns up to count records for this consumer. Records this
// consumer already claimed but never acked come back first: the ">"
// cursor only ever delivers brand-new records, so a record left
// unacked on purpose has to be re-read from the pending list or it
// would be lost to this consumer forever. A missing group (cold-start
// race) yields an empty read.
func (g *GroupReader) Read(ctx context.Context, count int64, block time.Duration) ([]Record, error) {
	if count <= 0 {
		count = 10
	}
	if block <= 0 {
		// BLOCK 0 would park forever; keep polls short
		block = 200 * time.Millisecond
	}
	pending, err := g.readFrom(ctx, "0", count, -1)
	if err != nil {
		return nil, err
	}
	if len(pending) > 0 {
		return pending, nil
	}
	return g.readFrom(ctx, ">", count, block)
}

func (g *GroupReader) readFrom(ctx context.Context, cursor string, count int64, block time.Duration) ([]Record, error) {
	res, err := g.cli.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    g.group,
		Consumer: g.consumer,
		Streams:  []string{g.stream, cursor},
		Count:    count,
		Block:    block,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		if isNoGroup(err) {
			g.log.Debug("consumer group not ready", zap.String("group", g.group))
			return nil, nil
		}
		return nil, err
	}

	var out []Record
	for _, stream := range res {
		for _, msg := range stream.Messages {
			out = append(out, Record{ID: msg.ID, Values: msg.Values})
		}
	}
	return out, nil
}

// Ack acknowledges one record. Double-ack is a no-op by stream
// semantics.
func (g *GroupReader) Ack(ctx context.Context, id string) error {
	err := g.cli.XAck(ctx, g.stream, g.group, id).Err()
	if err != nil && isNoGroup(err) {
		g.log.Debug("ack on missing group ignored", zap.String("record_id", id))
		return nil
	}
	return err
}

func isBusyGroup(err error) bool {
	return err != nil && strings.Contains(err.Error(), "BUSYGROUP")
}

func isNoGroup(err error) bool {
	return err != nil && strings.Contains(err.Error(), "NOGROUP")
}

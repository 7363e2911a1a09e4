package audit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"recipeshare/services/rs-realtime/internal/queue"
	"recipeshare/services/rs-realtime/internal/repo"
)

// fakeLog mimics the group reader's redelivery contract: a record
// keeps coming back on every read until it is acked.
type fakeLog struct {
	records  []queue.Record
	acked    map[string]int
	dropAcks bool
}

func newFakeLog(recs ...queue.Record) *fakeLog {
	return &fakeLog{records: recs, acked: map[string]int{}}
}

func (f *fakeLog) Ensure(context.Context) {}

func (f *fakeLog) Read(_ context.Context, _ int64, _ time.Duration) ([]queue.Record, error) {
	var out []queue.Record
	for _, r := range f.records {
		if f.acked[r.ID] == 0 {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeLog) Ack(_ context.Context, id string) error {
	if f.dropAcks {
		return nil
	}
	f.acked[id]++
	return nil
}

type fakeRecipes struct {
	mu      sync.Mutex
	byID    map[int64]*repo.Recipe
	steps   map[int64][]string
	updates []string
	getErr  error
	saveErr error
}

func (f *fakeRecipes) Get(_ context.Context, id int64) (*repo.Recipe, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	if r, ok := f.byID[id]; ok {
		cp := *r
		return &cp, nil
	}
	return nil, nil
}

func (f *fakeRecipes) UpdateStatus(_ context.Context, id int64, status int, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	if r, ok := f.byID[id]; ok {
		r.Status = status
		r.AuditReason.String = reason
		r.AuditReason.Valid = reason != ""
	}
	f.updates = append(f.updates, "update")
	return nil
}

func (f *fakeRecipes) Steps(_ context.Context, id int64) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.steps[id], nil
}

func (f *fakeRecipes) status(id int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.byID[id].Status
}

type fakeProfiles struct {
	byID map[int64]*repo.Profile
}

func (f *fakeProfiles) Profile(_ context.Context, uid int64) (*repo.Profile, error) {
	return f.byID[uid], nil
}

type notified struct {
	kind     string
	uid      int64
	recipeID int64
	reason   string
}

type fakeNotifier struct {
	calls []notified
}

func (f *fakeNotifier) AuditPassed(uid, recipeID int64, _ string) {
	f.calls = append(f.calls, notified{kind: "passed", uid: uid, recipeID: recipeID})
}

func (f *fakeNotifier) AuditRejected(uid, recipeID int64, _, reason string) {
	f.calls = append(f.calls, notified{kind: "rejected", uid: uid, recipeID: recipeID, reason: reason})
}

func (f *fakeNotifier) PendingRecipe(_ context.Context, recipeID int64, _ string, _ *repo.Profile) {
	f.calls = append(f.calls, notified{kind: "pending", recipeID: recipeID})
}

func submission(id string, recipeID, userID string) queue.Record {
	return queue.Record{ID: id, Values: map[string]interface{}{
		"recipe_id": recipeID,
		"user_id":   userID,
	}}
}

func newTestConsumer(log *fakeLog, recipes *fakeRecipes, profiles *fakeProfiles, n *fakeNotifier) *Consumer {
	if profiles == nil {
		profiles = &fakeProfiles{byID: map[int64]*repo.Profile{}}
	}
	gate := NewGate([]string{"casino"})
	return NewConsumer(log, recipes, profiles, n, gate, zap.NewNop(), Options{})
}

func TestConsumerRunOnce(t *testing.T) {
	ctx := context.Background()

	t.Run("bootstrap sentinel is acked and skipped", func(t *testing.T) {
		l := newFakeLog(queue.Record{ID: "0-1", Values: map[string]interface{}{"init": "1"}})
		recipes := &fakeRecipes{byID: map[int64]*repo.Recipe{}}
		n := &fakeNotifier{}

		newTestConsumer(l, recipes, nil, n).runOnce(ctx)

		assert.Equal(t, 1, l.acked["0-1"])
		assert.Empty(t, recipes.updates)
		assert.Empty(t, n.calls)
	})

	t.Run("malformed record is acked without mutation", func(t *testing.T) {
		l := newFakeLog(queue.Record{ID: "1-0", Values: map[string]interface{}{"recipe_id": "42"}})
		recipes := &fakeRecipes{byID: map[int64]*repo.Recipe{
			42: {ID: 42, UserID: 7, Status: repo.RecipeStatusScreening},
		}}
		n := &fakeNotifier{}

		newTestConsumer(l, recipes, nil, n).runOnce(ctx)

		assert.Equal(t, 1, l.acked["1-0"])
		assert.Equal(t, repo.RecipeStatusScreening, recipes.byID[42].Status)
		assert.Empty(t, n.calls)
	})

	t.Run("deleted recipe is acked and dropped", func(t *testing.T) {
		l := newFakeLog(submission("2-0", "99", "7"))
		recipes := &fakeRecipes{byID: map[int64]*repo.Recipe{}}
		n := &fakeNotifier{}

		newTestConsumer(l, recipes, nil, n).runOnce(ctx)

		assert.Equal(t, 1, l.acked["2-0"])
		assert.Empty(t, n.calls)
	})

	t.Run("already-settled recipe is acked without reprocessing", func(t *testing.T) {
		l := newFakeLog(submission("3-0", "42", "7"))
		recipes := &fakeRecipes{byID: map[int64]*repo.Recipe{
			42: {ID: 42, UserID: 7, Status: repo.RecipeStatusPendingReview},
		}}
		n := &fakeNotifier{}

		newTestConsumer(l, recipes, nil, n).runOnce(ctx)

		assert.Equal(t, 1, l.acked["3-0"])
		assert.Empty(t, recipes.updates)
		assert.Empty(t, n.calls, "redelivery of settled work must not notify again")
	})

	t.Run("passing submission moves to pending review and notifies", func(t *testing.T) {
		l := newFakeLog(submission("4-0", "42", "7"))
		recipes := &fakeRecipes{
			byID: map[int64]*repo.Recipe{
				42: {ID: 42, UserID: 7, Title: "Braised pork", Status: repo.RecipeStatusScreening},
			},
			steps: map[int64][]string{42: {"Cube the pork", "Simmer"}},
		}
		profiles := &fakeProfiles{byID: map[int64]*repo.Profile{
			7: {UID: 7, Nickname: "chef-lin"},
		}}
		n := &fakeNotifier{}

		newTestConsumer(l, recipes, profiles, n).runOnce(ctx)

		assert.Equal(t, 1, l.acked["4-0"])
		assert.Equal(t, repo.RecipeStatusPendingReview, recipes.byID[42].Status)
		require.Len(t, n.calls, 2)
		assert.Equal(t, notified{kind: "passed", uid: 7, recipeID: 42}, n.calls[0])
		assert.Equal(t, "pending", n.calls[1].kind)
	})

	t.Run("failing submission returns to draft with the reason", func(t *testing.T) {
		l := newFakeLog(submission("5-0", "42", "7"))
		recipes := &fakeRecipes{
			byID: map[int64]*repo.Recipe{
				42: {ID: 42, UserID: 7, Title: "casino snacks", Status: repo.RecipeStatusScreening},
			},
		}
		n := &fakeNotifier{}

		newTestConsumer(l, recipes, nil, n).runOnce(ctx)

		assert.Equal(t, 1, l.acked["5-0"])
		assert.Equal(t, repo.RecipeStatusDraft, recipes.byID[42].Status)
		assert.True(t, recipes.byID[42].AuditReason.Valid)
		require.Len(t, n.calls, 1)
		assert.Equal(t, "rejected", n.calls[0].kind)
		assert.NotEmpty(t, n.calls[0].reason)
	})

	t.Run("transient failure leaves the record unacked", func(t *testing.T) {
		l := newFakeLog(submission("6-0", "42", "7"))
		recipes := &fakeRecipes{getErr: errors.New("db down")}
		n := &fakeNotifier{}

		newTestConsumer(l, recipes, nil, n).runOnce(ctx)

		assert.Zero(t, l.acked["6-0"])
		assert.Empty(t, n.calls)
	})

	t.Run("crash between persist and ack is settled on redelivery", func(t *testing.T) {
		// First cycle persists the transition but the ack is lost, so
		// the same record comes back on the next cycle.
		recipes := &fakeRecipes{
			byID: map[int64]*repo.Recipe{
				42: {ID: 42, UserID: 7, Title: "Braised pork", Status: repo.RecipeStatusScreening},
			},
			steps: map[int64][]string{42: {"Simmer"}},
		}
		n := &fakeNotifier{}
		l := newFakeLog(submission("7-0", "42", "7"))
		c := newTestConsumer(l, recipes, nil, n)

		l.dropAcks = true
		c.runOnce(ctx)
		require.Equal(t, repo.RecipeStatusPendingReview, recipes.byID[42].Status)
		firstNotifications := len(n.calls)

		l.dropAcks = false
		c.runOnce(ctx)

		assert.Equal(t, 1, l.acked["7-0"], "redelivered record must be acked")
		assert.Len(t, n.calls, firstNotifications, "no duplicate notifications on redelivery")
	})

	t.Run("transient failure is retried to completion on a later cycle", func(t *testing.T) {
		recipes := &fakeRecipes{
			byID: map[int64]*repo.Recipe{
				42: {ID: 42, UserID: 7, Title: "Braised pork", Status: repo.RecipeStatusScreening},
			},
			steps: map[int64][]string{42: {"Simmer"}},
		}
		n := &fakeNotifier{}
		l := newFakeLog(submission("8-0", "42", "7"))
		c := newTestConsumer(l, recipes, nil, n)

		recipes.getErr = errors.New("db down")
		c.runOnce(ctx)
		assert.Zero(t, l.acked["8-0"])
		assert.Empty(t, n.calls)

		recipes.getErr = nil
		c.runOnce(ctx)

		assert.Equal(t, 1, l.acked["8-0"])
		assert.Equal(t, repo.RecipeStatusPendingReview, recipes.byID[42].Status)
		require.Len(t, n.calls, 2)
		assert.Equal(t, "passed", n.calls[0].kind)
	})
}

func TestConsumerStartStop(t *testing.T) {
	l := newFakeLog(submission("1-0", "42", "7"))
	recipes := &fakeRecipes{
		byID: map[int64]*repo.Recipe{
			42: {ID: 42, UserID: 7, Title: "Noodles", Status: repo.RecipeStatusScreening},
		},
	}
	n := &fakeNotifier{}
	c := NewConsumer(l, recipes, &fakeProfiles{byID: map[int64]*repo.Profile{}}, n, NewGate(nil), zap.NewNop(),
		Options{Tick: 10 * time.Millisecond})

	c.Start(context.Background())
	require.Eventually(t, func() bool {
		return recipes.status(42) == repo.RecipeStatusPendingReview
	}, time.Second, 10*time.Millisecond)
	c.Stop()

	// after Stop the loop is gone; nothing else consumes new records
	l.records = []queue.Record{submission("2-0", "42", "7")}
	time.Sleep(30 * time.Millisecond)
	assert.Zero(t, l.acked["2-0"])
}

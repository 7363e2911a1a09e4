package repo

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// Recipe lifecycle states. Screening is the only state the audit
// consumer is allowed to move; everything else means the record was
// already settled by another path.
const (
	RecipeStatusDraft         = 0 // returned to the author, editable
	RecipeStatusScreening     = 1 // submitted, machine screening in flight
	RecipeStatusPendingReview = 2 // passed screening, waiting on a moderator
	RecipeStatusPublished     = 3
	RecipeStatusWithdrawn     = 4
)

type Recipe struct {
	ID          int64
	UserID      int64
	Title       string
	Description string
	CoverURL    string
	Status      int
	AuditReason sql.NullString
	UpdateTime  time.Time
}

type RecipeRepo struct {
	db *sql.DB
}

func NewRecipeRepo(db *sql.DB) *RecipeRepo { return &RecipeRepo{db: db} }

// Get loads one recipe. A missing row returns (nil, nil): the caller
// treats deletion-while-queued as a skip, not a failure.
func (r *RecipeRepo) Get(ctx context.Context, id int64) (*Recipe, error) {
	var rec Recipe
	err := r.db.QueryRowContext(ctx, `
SELECT id, user_id, title, description, cover_url, status, audit_reason, update_time
FROM rs_recipe
WHERE id = ?
`, id).Scan(&rec.ID, &rec.UserID, &rec.Title, &rec.Description, &rec.CoverURL,
		&rec.Status, &rec.AuditReason, &rec.UpdateTime)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// UpdateStatus persists a lifecycle transition. reason is stored for
// rejected submissions and cleared otherwise.
func (r *RecipeRepo) UpdateStatus(ctx context.Context, id int64, status int, reason string) error {
	_, err := r.db.ExecContext(ctx, `
UPDATE rs_recipe SET status = ?, audit_reason = ?, update_time = NOW() WHERE id = ?
`, status, reason, id)
	return err
}

// Steps returns the recipe's step texts in display order.
func (r *RecipeRepo) Steps(ctx context.Context, recipeID int64) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT content FROM rs_recipe_step WHERE recipe_id = ? ORDER BY sort ASC
`, recipeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var content sql.NullString
		if err := rows.Scan(&content); err != nil {
			return nil, err
		}
		out = append(out, content.String)
	}
	return out, rows.Err()
}

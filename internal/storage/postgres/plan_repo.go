package postgres

import (
	"context"

	"github.com/google/uuid"

	"github.com/theakshaypant/studysync/internal/core"
	"github.com/theakshaypant/studysync/internal/errs"
)

// PlanRepo implements core.PlanStore.
type PlanRepo struct{ db *DB }

var _ core.PlanStore = (*PlanRepo)(nil)

func NewPlanRepo(db *DB) *PlanRepo { return &PlanRepo{db: db} }

func scanPlan(row scanner) (*core.StudyPlan, error) {
	var (
		p      core.StudyPlan
		status string
	)
	if err := row.Scan(&p.ID, &p.UserID, &p.Name, &p.Timezone, &status); err != nil {
		return nil, notFound(err)
	}
	p.Status = core.PlanStatus(status)
	return &p, nil
}

func (r *PlanRepo) Get(ctx context.Context, id uuid.UUID) (*core.StudyPlan, error) {
	const q = `SELECT id, user_id, name, timezone, status FROM study_plans WHERE id=$1`
	return scanPlan(r.db.Pool.QueryRow(ctx, q, id))
}

// Active returns the newest active plan of the user.
func (r *PlanRepo) Active(ctx context.Context, userID uuid.UUID) (*core.StudyPlan, error) {
	const q = `
SELECT id, user_id, name, timezone, status
FROM study_plans
WHERE user_id=$1 AND status='active'
ORDER BY created_at DESC
LIMIT 1`
	return scanPlan(r.db.Pool.QueryRow(ctx, q, userID))
}

func (r *PlanRepo) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Pool.Exec(ctx, `DELETE FROM study_plans WHERE id=$1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

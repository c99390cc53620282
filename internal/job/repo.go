package job

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/lib/pq"
	"gorm.io/gorm"
)

var _ Store = (*Repo)(nil)

// Repo is the Postgres store. Every state change is one
// `update ... where <precondition> returning *`, so concurrent callers never
// both observe success.
type Repo struct {
	DB *gorm.DB
}

func (r *Repo) Create(ctx context.Context, j *Job) error {
	return r.DB.WithContext(ctx).Omit("DispatchAttempts", "Releases").Create(j).Error
}

func (r *Repo) Get(ctx context.Context, id string) (*Job, error) {
	var j Job
	err := r.DB.WithContext(ctx).
		Preload("DispatchAttempts", func(db *gorm.DB) *gorm.DB { return db.Order("id asc") }).
		Preload("Releases", func(db *gorm.DB) *gorm.DB { return db.Order("id asc") }).
		Where("id = ?", id).
		First(&j).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &j, nil
}

func (r *Repo) RecordBroadcast(ctx context.Context, id string, providerIDs []string, at time.Time) (*Job, error) {
	var out Job
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Raw(`
update jobs
set status='BROADCASTED',
    broadcasted_to=?,
    broadcast_rounds=broadcast_rounds+1,
    last_broadcast_at=?,
    updated_at=now()
where id=? and status in ('CREATED','BROADCASTED') and assigned_to is null
returning *;
`, pq.StringArray(providerIDs), at, id).Scan(&out).Error; err != nil {
			return err
		}
		if out.ID == "" {
			return r.missOrStale(tx, id)
		}

		if len(providerIDs) > 0 {
			attempts := make([]DispatchAttempt, 0, len(providerIDs))
			for _, pid := range providerIDs {
				attempts = append(attempts, DispatchAttempt{
					JobID:      id,
					ProviderID: pid,
					Round:      out.BroadcastRounds,
					OfferedAt:  at,
				})
			}
			if err := tx.Create(&attempts).Error; err != nil {
				return err
			}
		}
		return r.hydrate(tx, &out)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *Repo) Accept(ctx context.Context, id, providerID string, at time.Time) (*Job, error) {
	var out Job
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Raw(`
update jobs
set assigned_to=?, status='ASSIGNED', locked_at=?, updated_at=now()
where id=? and status='BROADCASTED' and assigned_to is null and ? = any(broadcasted_to)
returning *;
`, providerID, at, id, providerID).Scan(&out).Error; err != nil {
			return err
		}
		if out.ID == "" {
			return r.missOrStale(tx, id)
		}
		return r.hydrate(tx, &out)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *Repo) Reject(ctx context.Context, id, providerID string) (*Job, error) {
	var out Job
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Raw(`
update jobs
set broadcasted_to=array_remove(broadcasted_to, ?), updated_at=now()
where id=? and status='BROADCASTED' and assigned_to is null and ? = any(broadcasted_to)
returning *;
`, providerID, id, providerID).Scan(&out).Error; err != nil {
			return err
		}
		if out.ID == "" {
			return r.missOrStale(tx, id)
		}
		return r.hydrate(tx, &out)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *Repo) Release(ctx context.Context, id, providerID, reason string, at time.Time) (*Job, error) {
	var out Job
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Raw(`
update jobs
set excluded_providers = case
        when ? = any(excluded_providers) then excluded_providers
        else array_append(excluded_providers, ?)
    end,
    assigned_to=null,
    locked_at=null,
    started_at=null,
    status='BROADCASTED',
    broadcasted_to='{}',
    last_released_at=?,
    updated_at=now()
where id=? and assigned_to=? and status in ('ASSIGNED','IN_PROGRESS')
returning *;
`, providerID, providerID, at, id, providerID).Scan(&out).Error; err != nil {
			return err
		}
		if out.ID == "" {
			return r.missOrStale(tx, id)
		}

		rel := Release{JobID: id, ProviderID: providerID, Reason: reason, ReleasedAt: at}
		if err := tx.Create(&rel).Error; err != nil {
			return err
		}
		return r.hydrate(tx, &out)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *Repo) Advance(ctx context.Context, id, providerID string, from, to Status, at time.Time) (*Job, error) {
	set := "status=?, updated_at=now()"
	switch to {
	case StatusInProgress:
		set += ", started_at=?"
	case StatusCompleted:
		set += ", completed_at=?"
	default:
		return nil, &IllegalTransitionError{Actor: ActorProvider, Current: from, To: to}
	}
	args := []any{string(to), at, id, string(from)}
	where := "id=? and status=?"
	if providerID != "" {
		where += " and assigned_to=?"
		args = append(args, providerID)
	}

	var out Job
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Raw("update jobs set "+set+" where "+where+" returning *;", args...).Scan(&out).Error; err != nil {
			return err
		}
		if out.ID == "" {
			return r.missOrStale(tx, id)
		}
		return r.hydrate(tx, &out)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *Repo) Cancel(ctx context.Context, id string, c Cancellation) (*Job, error) {
	allowed := make(pq.StringArray, 0, 4)
	for _, s := range c.AllowedStatuses() {
		allowed = append(allowed, string(s))
	}
	where := []string{"id=?", "status = any(?)"}
	args := []any{c.By, c.Reason, c.At, id, allowed}
	if c.CustomerID != "" {
		where = append(where, "customer_id=?")
		args = append(args, c.CustomerID)
	}
	if c.NoOffers {
		where = append(where, "cardinality(broadcasted_to)=0")
	}

	var out Job
	err := r.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := `
update jobs
set status='CANCELLED',
    cancelled_by=?,
    cancel_reason=?,
    cancelled_at=?,
    assigned_to=null,
    locked_at=null,
    updated_at=now()
where ` + strings.Join(where, " and ") + `
returning *;`
		if err := tx.Raw(q, args...).Scan(&out).Error; err != nil {
			return err
		}
		if out.ID == "" {
			return r.missOrStale(tx, id)
		}
		return r.hydrate(tx, &out)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (r *Repo) ListAvailable(ctx context.Context, providerID string) ([]Job, error) {
	var rows []Job
	err := r.DB.WithContext(ctx).
		Where("status = ? AND assigned_to IS NULL AND ? = any(broadcasted_to)", string(StatusBroadcasted), providerID).
		Order("created_at asc").
		Limit(100).
		Find(&rows).Error
	return rows, err
}

func (r *Repo) ListActive(ctx context.Context, providerIDs []string) ([]Job, error) {
	if len(providerIDs) == 0 {
		return nil, nil
	}
	var rows []Job
	err := r.DB.WithContext(ctx).
		Where("status IN ? AND assigned_to IN ?", []string{string(StatusAssigned), string(StatusInProgress)}, providerIDs).
		Find(&rows).Error
	return rows, err
}

func (r *Repo) ListForCustomer(ctx context.Context, customerID string, limit int) ([]Job, error) {
	var rows []Job
	err := r.DB.WithContext(ctx).
		Where("customer_id = ?", customerID).
		Order("created_at desc").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

func (r *Repo) ListStarved(ctx context.Context, q StarvedQuery) ([]Job, error) {
	var rows []Job
	err := r.DB.WithContext(ctx).
		Where("status = ? AND assigned_to IS NULL AND cardinality(broadcasted_to) = 0", string(StatusBroadcasted)).
		Where(`(greatest(created_at, last_released_at) <= ?
    OR last_broadcast_at IS NULL
    OR last_broadcast_at + make_interval(secs => least(power(2, broadcast_rounds), ?)) <= ?)`,
			q.Now.Add(-q.TTL), q.MaxBackoff.Seconds(), q.Now).
		Order("last_broadcast_at asc nulls first, id asc").
		Limit(q.Limit).
		Find(&rows).Error
	return rows, err
}

func (r *Repo) ListUndispatched(ctx context.Context, after Cursor, limit int) ([]Job, error) {
	tx := r.DB.WithContext(ctx).
		Where("status = ? AND assigned_to IS NULL", string(StatusCreated))
	if !after.IsZero() {
		tx = tx.Where("(created_at, id) > (?, ?::uuid)", after.CreatedAt, after.ID)
	}
	var rows []Job
	err := tx.Order("created_at asc, id asc").Limit(limit).Find(&rows).Error
	return rows, err
}

func (r *Repo) missOrStale(tx *gorm.DB, id string) error {
	var n int64
	if err := tx.Model(&Job{}).Where("id = ?", id).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return ErrStaleState
}

func (r *Repo) hydrate(tx *gorm.DB, j *Job) error {
	if err := tx.Where("job_id = ?", j.ID).Order("id asc").Find(&j.DispatchAttempts).Error; err != nil {
		return err
	}
	return tx.Where("job_id = ?", j.ID).Order("id asc").Find(&j.Releases).Error
}

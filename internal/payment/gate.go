package payment

import (
	"context"
	"time"

	"gorm.io/gorm"
)

const StatusConfirmed = "CONFIRMED"

// Gate answers whether a job's payment has cleared. Jobs are not broadcast
// until it has.
type Gate interface {
	Confirmed(ctx context.Context, jobID string) (bool, error)
}

// Record is a row of the payments table. The payment service owns these
// rows; dispatch only reads them.
type Record struct {
	ID        uint64    `gorm:"primaryKey"`
	JobID     string    `gorm:"type:uuid;index;not null"`
	Status    string    `gorm:"type:text;not null"`
	Reference string    `gorm:"type:text;not null;default:''"`
	CreatedAt time.Time `gorm:"not null;default:now()"`
	UpdatedAt time.Time `gorm:"not null;default:now()"`
}

func (Record) TableName() string { return "payments" }

// TableGate reads payment state from the payments table.
type TableGate struct {
	DB *gorm.DB
}

func (g *TableGate) Confirmed(ctx context.Context, jobID string) (bool, error) {
	var n int64
	err := g.DB.WithContext(ctx).
		Model(&Record{}).
		Where("job_id = ? AND status = ?", jobID, StatusConfirmed).
		Count(&n).Error
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Always confirms every job.
type Always struct{}

func (Always) Confirmed(context.Context, string) (bool, error) { return true, nil }

// Func adapts a function to Gate.
type Func func(ctx context.Context, jobID string) (bool, error)

func (f Func) Confirmed(ctx context.Context, jobID string) (bool, error) { return f(ctx, jobID) }

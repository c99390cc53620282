package db

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"roadcall/internal/auth"
	"roadcall/internal/job"
	"roadcall/internal/payment"
)

func Connect(dsn string) (*gorm.DB, error) {
	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}
	return gdb, nil
}

func AutoMigrateAndIndexes(gdb *gorm.DB) error {
	// Tables
	if err := gdb.AutoMigrate(
		&auth.User{},
		&job.Job{},
		&job.DispatchAttempt{},
		&job.Release{},
		&payment.Record{},
	); err != nil {
		return err
	}

	stmts := []string{
		// Offer and exclusion lookups (text[] membership)
		`create index if not exists idx_jobs_broadcasted_to on jobs using gin (broadcasted_to);`,
		`create index if not exists idx_jobs_excluded on jobs using gin (excluded_providers);`,
		// Capacity: active jobs per provider
		`create index if not exists idx_jobs_assignee_status on jobs(assigned_to, status) where assigned_to is not null;`,
		// Sweeper scans
		`create index if not exists idx_jobs_starved on jobs(last_broadcast_at nulls first, id) where status = 'BROADCASTED' and assigned_to is null and cardinality(broadcasted_to) = 0;`,
		`create index if not exists idx_jobs_undispatched on jobs(created_at, id) where status = 'CREATED';`,
		`create index if not exists idx_jobs_customer_created on jobs(customer_id, created_at desc);`,
		// Provider candidate prefilter
		`create index if not exists idx_users_dispatch on users(role, lat, lng) where is_online and verification_status = 'APPROVED';`,
		`create index if not exists idx_attempts_job on dispatch_attempts(job_id, id);`,
		`create index if not exists idx_releases_job on releases(job_id, id);`,
		`create index if not exists idx_payments_job_status on payments(job_id, status);`,
	}
	for _, s := range stmts {
		if err := gdb.Exec(s).Error; err != nil {
			return fmt.Errorf("index exec failed: %w (sql=%s)", err, s)
		}
	}

	return nil
}

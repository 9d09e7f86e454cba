package db

import (
	"fmt"

	"nudge/internal/dispatch"
	"nudge/internal/prefs"
	"nudge/internal/schedule"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func Connect(dsn string) (*gorm.DB, error) {
	// TranslateError maps unique violations to gorm.ErrDuplicatedKey, which
	// the dispatch log relies on for its already-sent detection.
	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, err
	}
	return gdb, nil
}

func AutoMigrateAndIndexes(gdb *gorm.DB) error {
	// Tables
	if err := gdb.AutoMigrate(
		&schedule.Schedule{},
		&prefs.Preferences{},
		&dispatch.Record{},
	); err != nil {
		return err
	}

	// At-most-once guard: a tuple may carry one delivered record, whether it
	// is still 'sent' or already acknowledged as 'read'. Digest records are
	// scoped by their week via period_key.
	if err := gdb.Exec(`
create unique index if not exists uq_dispatch_delivered
on dispatch_records(user_id, job_id, kind, channel, coalesce(period_key, ''))
where status in ('sent', 'read');
`).Error; err != nil {
		return err
	}

	// Helpful indexes
	stmts := []string{
		`create index if not exists idx_schedules_due on schedules(status, next_fire_at);`,
		`create index if not exists idx_dispatch_tuple on dispatch_records(user_id, job_id, kind, channel, created_at);`,
		`create index if not exists idx_dispatch_user_created on dispatch_records(user_id, created_at desc);`,
	}
	for _, s := range stmts {
		if err := gdb.Exec(s).Error; err != nil {
			return fmt.Errorf("index exec failed: %w (sql=%s)", err, s)
		}
	}

	return nil
}

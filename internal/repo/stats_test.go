package repo

import (
	"context"
	"fmt"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite" // pure-Go SQLite (no CGO)
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-users-backend/internal/domain"
)

func newTestDB(t *testing.T, migrate ...any) *gorm.DB {
	t.Helper()
	// Unique DB per test to avoid schema leaking across tests.
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if len(migrate) > 0 {
		if err := db.AutoMigrate(migrate...); err != nil {
			t.Fatalf("automigrate: %v", err)
		}
	}
	return db
}

func TestUsersStats_CountError_NoTable(t *testing.T) {
	db := newTestDB(t /* no migrations */)
	if _, _, err := UsersStats(context.Background(), db, UserFilter{}); err == nil {
		t.Fatalf("expected error due to missing users table")
	}
}

func TestUsersStats_ZeroRows(t *testing.T) {
	db := newTestDB(t, &domain.User{})
	count, maxAt, err := UsersStats(context.Background(), db, UserFilter{})
	if err != nil {
		t.Fatalf("UsersStats error: %v", err)
	}
	if count != 0 || maxAt != nil {
		t.Fatalf("expected (0, nil), got (%d, %v)", count, maxAt)
	}
}

func TestUsersStats_Success_FilterAndMax(t *testing.T) {
	db := newTestDB(t, &domain.User{})

	t1 := time.Date(2025, 1, 2, 15, 0, 0, 0, time.UTC)
	t2 := time.Date(2025, 3, 4, 10, 30, 0, 0, time.UTC) // overall max
	t3 := time.Date(2025, 2, 1, 9, 0, 0, 0, time.UTC)

	for _, u := range []*domain.User{
		{ID: "u1", Email: "a@x.com", CreatedAt: t1, UpdatedAt: t1},
		{ID: "u2", Email: "b@x.com", CreatedAt: t2, UpdatedAt: t2},
		{ID: "u3", Email: "c@x.com", CreatedAt: t3, UpdatedAt: t3},
	} {
		if err := db.Create(u).Error; err != nil {
			t.Fatalf("seed %s: %v", u.ID, err)
		}
	}

	count, maxAt, err := UsersStats(context.Background(), db, UserFilter{})
	if err != nil {
		t.Fatalf("UsersStats error: %v", err)
	}
	if count != 3 || maxAt == nil || !maxAt.Equal(t2) {
		t.Fatalf("expected (3, %v), got (%d, %v)", t2, count, maxAt)
	}

	count, maxAt, err = UsersStats(context.Background(), db, UserFilter{Email: "c@x.com"})
	if err != nil {
		t.Fatalf("UsersStats filtered error: %v", err)
	}
	if count != 1 || maxAt == nil || !maxAt.Equal(t3) {
		t.Fatalf("expected (1, %v), got (%d, %v)", t3, count, maxAt)
	}
}

// Force the second query (SELECT updated_at ...) to fail by renaming the column.
func TestUsersStats_SelectLatest_ErrorPath(t *testing.T) {
	db := newTestDB(t, &domain.User{})

	now := time.Now().UTC()
	if err := db.Create(&domain.User{ID: "ux", Email: "x@x.com", CreatedAt: now, UpdatedAt: now}).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
	if err := db.Exec(`ALTER TABLE users RENAME COLUMN updated_at TO updated_at_old`).Error; err != nil {
		t.Fatalf("rename column: %v", err)
	}

	if _, _, err := UsersStats(context.Background(), db, UserFilter{}); err == nil {
		t.Fatalf("expected error from latest-updated select after column rename")
	}
}

package application

import (
	"context"
	"errors"
	"log"
	"strings"
	"testing"
	"time"

	settings "powerstation-cloud/internal/settings/domain"
)

type fakePolicies struct {
	enabled []settings.CollectionSetting
	listErr error
	cleaned map[string]time.Time
}

func (f *fakePolicies) ListAutoCleanupEnabled(ctx context.Context) ([]settings.CollectionSetting, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.enabled, nil
}

func (f *fakePolicies) MarkCleanup(ctx context.Context, userID string, at time.Time) error {
	if f.cleaned == nil {
		f.cleaned = map[string]time.Time{}
	}
	f.cleaned[userID] = at
	return nil
}

type fakeDeleter struct {
	rows    map[string]map[time.Time]int64
	deleted []time.Time
	err     error
}

func (f *fakeDeleter) DeleteOlderThan(ctx context.Context, userID string, cutoff time.Time) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	f.deleted = append(f.deleted, cutoff)
	var n int64
	for at, count := range f.rows[userID] {
		if at.Before(cutoff) {
			n += count
			delete(f.rows[userID], at)
		}
	}
	return n, nil
}

type fixedClock struct{ now time.Time }

func (f fixedClock) Now() time.Time { return f.now }

func newTestSweeper(t *testing.T, policies *fakePolicies, readings, notifications *fakeDeleter, now time.Time) *Sweeper {
	t.Helper()
	logger := log.New(&strings.Builder{}, "", 0)
	sweeper, err := NewSweeper(policies, readings, notifications, logger, WithSweeperClock(fixedClock{now: now}))
	if err != nil {
		t.Fatalf("NewSweeper: %v", err)
	}
	return sweeper
}

func TestSweepUserDeletesOnlyExpiredRows(t *testing.T) {
	now := time.Date(2026, 6, 1, 15, 30, 0, 0, time.UTC)
	cutoff := time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC) // 90 days before midnight

	readings := &fakeDeleter{rows: map[string]map[time.Time]int64{
		"user-1": {
			cutoff.Add(-24 * time.Hour): 10, // 91 days old, expired
			cutoff.Add(24 * time.Hour):  7,  // 89 days old, kept
			cutoff:                      3,  // exactly at cutoff, kept
		},
	}}
	notifications := &fakeDeleter{rows: map[string]map[time.Time]int64{
		"user-1": {cutoff.Add(-48 * time.Hour): 2},
	}}
	policies := &fakePolicies{}
	sweeper := newTestSweeper(t, policies, readings, notifications, now)

	result, err := sweeper.SweepUser(context.Background(), settings.CollectionSetting{
		UserID:              "user-1",
		RetentionPeriodDays: 90,
		AutoCleanupEnabled:  true,
	})
	if err != nil {
		t.Fatalf("SweepUser: %v", err)
	}
	if !result.Cutoff.Equal(cutoff) {
		t.Fatalf("cutoff = %v, want %v", result.Cutoff, cutoff)
	}
	if result.ReadingsDeleted != 10 {
		t.Fatalf("readings deleted = %d, want 10", result.ReadingsDeleted)
	}
	if result.NotificationsDeleted != 2 {
		t.Fatalf("notifications deleted = %d, want 2", result.NotificationsDeleted)
	}
	if _, ok := policies.cleaned["user-1"]; !ok {
		t.Fatal("expected cleanup stamp to advance")
	}
}

func TestSweepUserIsIdempotentWithinADay(t *testing.T) {
	now := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	cutoff := time.Date(2026, 3, 3, 0, 0, 0, 0, time.UTC)

	readings := &fakeDeleter{rows: map[string]map[time.Time]int64{
		"user-1": {cutoff.Add(-time.Hour): 5},
	}}
	notifications := &fakeDeleter{rows: map[string]map[time.Time]int64{}}
	sweeper := newTestSweeper(t, &fakePolicies{}, readings, notifications, now)
	setting := settings.CollectionSetting{UserID: "user-1", RetentionPeriodDays: 90, AutoCleanupEnabled: true}

	first, err := sweeper.SweepUser(context.Background(), setting)
	if err != nil {
		t.Fatalf("first sweep: %v", err)
	}
	if first.ReadingsDeleted != 5 {
		t.Fatalf("first sweep deleted %d, want 5", first.ReadingsDeleted)
	}

	second, err := sweeper.SweepUser(context.Background(), setting)
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if second.ReadingsDeleted != 0 {
		t.Fatalf("second sweep deleted %d, want 0", second.ReadingsDeleted)
	}
}

func TestSweepUserDefaultsRetention(t *testing.T) {
	now := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	readings := &fakeDeleter{rows: map[string]map[time.Time]int64{}}
	notifications := &fakeDeleter{rows: map[string]map[time.Time]int64{}}
	sweeper := newTestSweeper(t, &fakePolicies{}, readings, notifications, now)

	result, err := sweeper.SweepUser(context.Background(), settings.CollectionSetting{
		UserID:             "user-1",
		AutoCleanupEnabled: true,
	})
	if err != nil {
		t.Fatalf("SweepUser: %v", err)
	}
	want := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -settings.DefaultRetentionDays)
	if !result.Cutoff.Equal(want) {
		t.Fatalf("cutoff = %v, want default-retention cutoff %v", result.Cutoff, want)
	}
}

func TestSweepAllIsolatesUserFailures(t *testing.T) {
	now := time.Date(2026, 6, 1, 8, 0, 0, 0, time.UTC)
	policies := &fakePolicies{enabled: []settings.CollectionSetting{
		{UserID: "user-1", RetentionPeriodDays: 30, AutoCleanupEnabled: true},
		{UserID: "", RetentionPeriodDays: 30, AutoCleanupEnabled: true}, // invalid, skipped
		{UserID: "user-3", RetentionPeriodDays: 30, AutoCleanupEnabled: true},
	}}
	readings := &fakeDeleter{rows: map[string]map[time.Time]int64{}}
	notifications := &fakeDeleter{rows: map[string]map[time.Time]int64{}}
	sweeper := newTestSweeper(t, policies, readings, notifications, now)

	results, err := sweeper.SweepAll(context.Background())
	if err != nil {
		t.Fatalf("SweepAll: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d results, want 2", len(results))
	}
}

func TestSweepAllPropagatesListError(t *testing.T) {
	policies := &fakePolicies{listErr: errors.New("db down")}
	readings := &fakeDeleter{}
	notifications := &fakeDeleter{}
	sweeper := newTestSweeper(t, policies, readings, notifications, time.Now())

	if _, err := sweeper.SweepAll(context.Background()); err == nil {
		t.Fatal("expected list error to propagate")
	}
}

package application

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"testing"
	"time"

	devices "powerstation-cloud/internal/devices/domain"
	"powerstation-cloud/internal/ecocloud"
	readings "powerstation-cloud/internal/readings/domain"
	settings "powerstation-cloud/internal/settings/domain"
)

type fakeCloudClient struct {
	mu      sync.Mutex
	quotas  map[string]ecocloud.RawQuota
	errs    map[string]error
	calls   []string
	inUse   int
	peakUse int
}

func (f *fakeCloudClient) DeviceQuota(ctx context.Context, sn string) (ecocloud.RawQuota, error) {
	f.mu.Lock()
	f.calls = append(f.calls, sn)
	f.inUse++
	if f.inUse > f.peakUse {
		f.peakUse = f.inUse
	}
	f.mu.Unlock()

	time.Sleep(2 * time.Millisecond)

	f.mu.Lock()
	f.inUse--
	err := f.errs[sn]
	quota := f.quotas[sn]
	f.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return quota, nil
}

type fakeDeviceLister struct {
	byUser map[string][]devices.Device
	owners []string
}

func (f *fakeDeviceLister) ListActiveByUser(ctx context.Context, userID string) ([]devices.Device, error) {
	return f.byUser[userID], nil
}

func (f *fakeDeviceLister) ListOwners(ctx context.Context) ([]string, error) {
	return f.owners, nil
}

type fakeReadingWriter struct {
	mu       sync.Mutex
	inserted []*readings.Reading
	failFor  string
}

func (f *fakeReadingWriter) Insert(ctx context.Context, reading *readings.Reading) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failFor != "" && reading.DeviceID == f.failFor {
		return errors.New("insert failed")
	}
	f.inserted = append(f.inserted, reading)
	return nil
}

type fakeStamper struct {
	mu     sync.Mutex
	marked []time.Time
}

func (f *fakeStamper) MarkCollected(ctx context.Context, userID string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.marked = append(f.marked, at)
	return nil
}

type recordingAlerter struct {
	mu       sync.Mutex
	readings []string
	offline  []string
}

func (r *recordingAlerter) EvaluateReading(ctx context.Context, device devices.Device, reading *readings.Reading) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.readings = append(r.readings, device.ID)
	return nil
}

func (r *recordingAlerter) EvaluateOffline(ctx context.Context, userID string, deviceList []devices.Device) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.offline = append(r.offline, userID)
	return nil
}

type fixedClock struct{ now time.Time }

func (f fixedClock) Now() time.Time { return f.now }

func healthyQuota(soc float64) ecocloud.RawQuota {
	return ecocloud.RawQuota{
		"pd.soc":         {Val: soc, Scale: 0},
		"pd.wattsInSum":  {Val: 120, Scale: 0},
		"pd.wattsOutSum": {Val: 40, Scale: 0},
	}
}

func testConfig() Config {
	return Config{Concurrency: 2, CallTimeoutSeconds: 5}
}

func newTestCollector(t *testing.T, client *fakeCloudClient, lister *fakeDeviceLister, writer *fakeReadingWriter, stamper *fakeStamper, setting *settings.CollectionSetting, opts ...CollectorOption) *Collector {
	t.Helper()
	scheduler, err := NewScheduler(&stubSettingsReader{setting: setting})
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	logger := log.New(&strings.Builder{}, "", 0)
	collector, err := NewCollector(client, lister, writer, stamper, scheduler, testConfig(), logger, opts...)
	if err != nil {
		t.Fatalf("NewCollector: %v", err)
	}
	return collector
}

func TestRunRoundIsolatesDeviceFailures(t *testing.T) {
	client := &fakeCloudClient{
		quotas: map[string]ecocloud.RawQuota{
			"SN-1": healthyQuota(80),
			"SN-3": healthyQuota(55),
		},
		errs: map[string]error{
			"SN-2": &ecocloud.TransportError{Err: errors.New("dial timeout")},
		},
	}
	lister := &fakeDeviceLister{byUser: map[string][]devices.Device{
		"user-1": {
			{ID: "dev-1", UserID: "user-1", SerialNumber: "SN-1", IsActive: true},
			{ID: "dev-2", UserID: "user-1", SerialNumber: "SN-2", IsActive: true},
			{ID: "dev-3", UserID: "user-1", SerialNumber: "SN-3", IsActive: true},
		},
	}}
	writer := &fakeReadingWriter{}
	stamper := &fakeStamper{}
	collector := newTestCollector(t, client, lister, writer, stamper, &settings.CollectionSetting{
		UserID:                    "user-1",
		CollectionIntervalMinutes: 5,
	})

	summary, err := collector.RunRound(context.Background(), "user-1", false)
	if err != nil {
		t.Fatalf("RunRound: %v", err)
	}
	if summary.Attempted != 3 || summary.Succeeded != 2 || summary.Failed != 1 {
		t.Fatalf("summary = %+v, want attempted=3 succeeded=2 failed=1", summary)
	}
	if len(writer.inserted) != 2 {
		t.Fatalf("inserted %d readings, want 2", len(writer.inserted))
	}
	persisted := map[string]bool{}
	for _, r := range writer.inserted {
		persisted[r.DeviceID] = true
	}
	if !persisted["dev-1"] || !persisted["dev-3"] {
		t.Fatalf("persisted %v, want dev-1 and dev-3", persisted)
	}
	for _, result := range summary.Results {
		if result.DeviceID == "dev-2" {
			if result.Outcome != OutcomeFailed {
				t.Fatalf("dev-2 outcome = %s, want failed", result.Outcome)
			}
			if result.Err == "" {
				t.Fatal("dev-2 result missing error text")
			}
		}
	}
}

func TestRunRoundEmptySnapshotIsGap(t *testing.T) {
	client := &fakeCloudClient{
		quotas: map[string]ecocloud.RawQuota{
			"SN-1": {},
		},
	}
	lister := &fakeDeviceLister{byUser: map[string][]devices.Device{
		"user-1": {{ID: "dev-1", UserID: "user-1", SerialNumber: "SN-1", IsActive: true}},
	}}
	writer := &fakeReadingWriter{}
	stamper := &fakeStamper{}
	collector := newTestCollector(t, client, lister, writer, stamper, &settings.CollectionSetting{
		UserID:                    "user-1",
		CollectionIntervalMinutes: 5,
	})

	summary, err := collector.RunRound(context.Background(), "user-1", false)
	if err != nil {
		t.Fatalf("RunRound: %v", err)
	}
	if summary.Gaps != 1 || summary.Failed != 0 || summary.Succeeded != 0 {
		t.Fatalf("summary = %+v, want one gap", summary)
	}
	if len(writer.inserted) != 0 {
		t.Fatal("gap must not persist a reading")
	}
	if len(stamper.marked) != 0 {
		t.Fatal("round with no successes must not advance the stamp")
	}
}

func TestRunRoundRespectsConcurrencyBound(t *testing.T) {
	quotas := map[string]ecocloud.RawQuota{}
	var deviceList []devices.Device
	for _, sn := range []string{"SN-1", "SN-2", "SN-3", "SN-4", "SN-5", "SN-6"} {
		quotas[sn] = healthyQuota(70)
		deviceList = append(deviceList, devices.Device{
			ID: "dev-" + sn, UserID: "user-1", SerialNumber: sn, IsActive: true,
		})
	}
	client := &fakeCloudClient{quotas: quotas}
	lister := &fakeDeviceLister{byUser: map[string][]devices.Device{"user-1": deviceList}}
	collector := newTestCollector(t, client, lister, &fakeReadingWriter{}, &fakeStamper{}, &settings.CollectionSetting{
		UserID:                    "user-1",
		CollectionIntervalMinutes: 5,
	})

	if _, err := collector.RunRound(context.Background(), "user-1", false); err != nil {
		t.Fatalf("RunRound: %v", err)
	}
	if client.peakUse > 2 {
		t.Fatalf("peak concurrent calls = %d, want at most 2", client.peakUse)
	}
	if len(client.calls) != 6 {
		t.Fatalf("made %d calls, want 6", len(client.calls))
	}
}

func TestRunRoundAdvancesStampToRoundStart(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	client := &fakeCloudClient{quotas: map[string]ecocloud.RawQuota{"SN-1": healthyQuota(60)}}
	lister := &fakeDeviceLister{byUser: map[string][]devices.Device{
		"user-1": {{ID: "dev-1", UserID: "user-1", SerialNumber: "SN-1", IsActive: true}},
	}}
	stamper := &fakeStamper{}
	collector := newTestCollector(t, client, lister, &fakeReadingWriter{}, stamper, &settings.CollectionSetting{
		UserID:                    "user-1",
		CollectionIntervalMinutes: 5,
	}, WithCollectorClock(fixedClock{now: start}))

	if _, err := collector.RunRound(context.Background(), "user-1", false); err != nil {
		t.Fatalf("RunRound: %v", err)
	}
	if len(stamper.marked) != 1 {
		t.Fatalf("marked %d times, want 1", len(stamper.marked))
	}
	if !stamper.marked[0].Equal(start) {
		t.Fatalf("stamp = %v, want round start %v", stamper.marked[0], start)
	}
}

func TestRunRoundSkipsWhenNotDue(t *testing.T) {
	last := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	client := &fakeCloudClient{quotas: map[string]ecocloud.RawQuota{"SN-1": healthyQuota(60)}}
	lister := &fakeDeviceLister{byUser: map[string][]devices.Device{
		"user-1": {{ID: "dev-1", UserID: "user-1", SerialNumber: "SN-1", IsActive: true}},
	}}
	collector := newTestCollector(t, client, lister, &fakeReadingWriter{}, &fakeStamper{}, &settings.CollectionSetting{
		UserID:                    "user-1",
		CollectionIntervalMinutes: 5,
		LastCollectionAt:          last,
	}, WithCollectorClock(fixedClock{now: last.Add(time.Minute)}))

	summary, err := collector.RunRound(context.Background(), "user-1", false)
	if err != nil {
		t.Fatalf("RunRound: %v", err)
	}
	if !summary.Skipped {
		t.Fatal("expected round to be skipped")
	}
	if summary.RetryAfter != 4*time.Minute {
		t.Fatalf("RetryAfter = %v, want 4m", summary.RetryAfter)
	}
	if len(client.calls) != 0 {
		t.Fatal("skipped round must not call the cloud")
	}
}

func TestRunRoundFeedsAlerter(t *testing.T) {
	client := &fakeCloudClient{
		quotas: map[string]ecocloud.RawQuota{"SN-1": healthyQuota(15)},
		errs:   map[string]error{"SN-2": &ecocloud.TransportError{Err: errors.New("unreachable")}},
	}
	lister := &fakeDeviceLister{byUser: map[string][]devices.Device{
		"user-1": {
			{ID: "dev-1", UserID: "user-1", SerialNumber: "SN-1", IsActive: true},
			{ID: "dev-2", UserID: "user-1", SerialNumber: "SN-2", IsActive: true},
		},
	}}
	alerter := &recordingAlerter{}
	collector := newTestCollector(t, client, lister, &fakeReadingWriter{}, &fakeStamper{}, &settings.CollectionSetting{
		UserID:                    "user-1",
		CollectionIntervalMinutes: 5,
	}, WithAlerter(alerter))

	if _, err := collector.RunRound(context.Background(), "user-1", false); err != nil {
		t.Fatalf("RunRound: %v", err)
	}
	if len(alerter.readings) != 1 || alerter.readings[0] != "dev-1" {
		t.Fatalf("evaluated readings for %v, want only dev-1", alerter.readings)
	}
	if len(alerter.offline) != 1 || alerter.offline[0] != "user-1" {
		t.Fatalf("offline evaluation ran for %v, want user-1", alerter.offline)
	}
}

func TestRunAllRoundsCoversEveryOwner(t *testing.T) {
	client := &fakeCloudClient{quotas: map[string]ecocloud.RawQuota{
		"SN-1": healthyQuota(50),
		"SN-2": healthyQuota(70),
	}}
	lister := &fakeDeviceLister{
		owners: []string{"user-1", "user-2"},
		byUser: map[string][]devices.Device{
			"user-1": {{ID: "dev-1", UserID: "user-1", SerialNumber: "SN-1", IsActive: true}},
			"user-2": {{ID: "dev-2", UserID: "user-2", SerialNumber: "SN-2", IsActive: true}},
		},
	}
	collector := newTestCollector(t, client, lister, &fakeReadingWriter{}, &fakeStamper{}, &settings.CollectionSetting{
		UserID:                    "user-1",
		CollectionIntervalMinutes: 5,
	})

	summaries, err := collector.RunAllRounds(context.Background(), false)
	if err != nil {
		t.Fatalf("RunAllRounds: %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("got %d summaries, want 2", len(summaries))
	}
}

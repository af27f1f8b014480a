package application

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	alerts "powerstation-cloud/internal/alerts/domain"
	devices "powerstation-cloud/internal/devices/domain"
	"powerstation-cloud/internal/observability/metrics"
	readings "powerstation-cloud/internal/readings/domain"
	settings "powerstation-cloud/internal/settings/domain"
)

const (
	defaultSuppressionWindow = 30 * time.Minute
	defaultOfflineLookback   = 30 * time.Minute
)

// ThresholdReader loads a user's alert thresholds.
type ThresholdReader interface {
	GetOrCreateNotification(ctx context.Context, userID string) (*settings.NotificationSetting, error)
}

// LogStore reads and writes the notification log. The log is the durable
// suppression state: the evaluator holds no send history in memory, so
// it survives restarts and concurrent invocations.
type LogStore interface {
	Insert(ctx context.Context, entry *alerts.LogEntry) error
	ExistsSince(ctx context.Context, userID, deviceID, kind string, since time.Time) (bool, error)
}

// ReadingHistory answers offline-detection queries.
type ReadingHistory interface {
	LatestByDevice(ctx context.Context, deviceID string) (*readings.Reading, error)
	CountSince(ctx context.Context, deviceID string, since time.Time) (int, error)
}

// AddressReader resolves a user's notification address.
type AddressReader interface {
	UserEmail(ctx context.Context, userID string) (string, error)
}

// EventNotifier delivers one alert event.
type EventNotifier interface {
	Notify(ctx context.Context, event alerts.Event, toAddress string) (string, error)
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

// Evaluator inspects fresh readings (or their absence) against per-user
// thresholds and emits deduplicated notifications. Suppression works as
// a three-state machine per (user, device, kind) key: quiet until a
// threshold crossing, then suppressed until the window elapses, then
// quiet again -- with the notification log as the state store.
type Evaluator struct {
	thresholds ThresholdReader
	logs       LogStore
	history    ReadingHistory
	addresses  AddressReader
	notifier   EventNotifier
	logger     *log.Logger
	clock      Clock

	suppressionWindow time.Duration
	offlineLookback   time.Duration

	keys keyedMutex
}

// EvaluatorOption customizes the evaluator.
type EvaluatorOption func(*Evaluator)

// WithClock assigns a clock.
func WithClock(clock Clock) EvaluatorOption {
	return func(e *Evaluator) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// WithSuppressionWindow overrides the minimum spacing between two
// notifications of the same kind for the same device.
func WithSuppressionWindow(window time.Duration) EvaluatorOption {
	return func(e *Evaluator) {
		if window > 0 {
			e.suppressionWindow = window
		}
	}
}

// WithOfflineLookback overrides the silence window after which a
// previously reporting device counts as offline.
func WithOfflineLookback(lookback time.Duration) EvaluatorOption {
	return func(e *Evaluator) {
		if lookback > 0 {
			e.offlineLookback = lookback
		}
	}
}

// NewEvaluator constructs an evaluator.
func NewEvaluator(thresholds ThresholdReader, logs LogStore, history ReadingHistory, addresses AddressReader, notifier EventNotifier, logger *log.Logger, opts ...EvaluatorOption) (*Evaluator, error) {
	if thresholds == nil || logs == nil || history == nil {
		return nil, errors.New("alert evaluator: nil repository")
	}
	if addresses == nil {
		return nil, errors.New("alert evaluator: nil address reader")
	}
	if notifier == nil {
		return nil, errors.New("alert evaluator: nil notifier")
	}
	evaluator := &Evaluator{
		thresholds:        thresholds,
		logs:              logs,
		history:           history,
		addresses:         addresses,
		notifier:          notifier,
		logger:            logger,
		clock:             systemClock{},
		suppressionWindow: defaultSuppressionWindow,
		offlineLookback:   defaultOfflineLookback,
	}
	for _, opt := range opts {
		opt(evaluator)
	}
	return evaluator, nil
}

// EvaluateReading checks one fresh reading against the owner's
// thresholds. Kind failures are isolated: one kind failing to notify
// does not block the others.
func (e *Evaluator) EvaluateReading(ctx context.Context, device devices.Device, reading *readings.Reading) error {
	if e == nil {
		return errors.New("alert evaluator: nil evaluator")
	}
	if reading == nil {
		return nil
	}
	thresholds, err := e.thresholds.GetOrCreateNotification(ctx, device.UserID)
	if err != nil {
		return err
	}

	now := e.clock.Now().UTC()
	var events []alerts.Event
	if thresholds.LowBatteryEnabled && reading.BatteryLevelPct <= thresholds.LowBatteryThresholdPct {
		events = append(events, alerts.Event{
			UserID:       device.UserID,
			DeviceID:     device.ID,
			DeviceName:   device.Name,
			Kind:         alerts.KindLowBattery,
			CurrentValue: reading.BatteryLevelPct,
			Threshold:    thresholds.LowBatteryThresholdPct,
			OccurredAt:   now,
		})
	}
	if thresholds.PowerOverloadEnabled && reading.OutputWatts > thresholds.PowerThresholdWatts {
		events = append(events, alerts.Event{
			UserID:       device.UserID,
			DeviceID:     device.ID,
			DeviceName:   device.Name,
			Kind:         alerts.KindPowerOverload,
			CurrentValue: reading.OutputWatts,
			Threshold:    thresholds.PowerThresholdWatts,
			OccurredAt:   now,
		})
	}

	var errs []error
	for _, event := range events {
		if err := e.process(ctx, thresholds, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// EvaluateOffline flags devices that were reporting before but produced
// no reading inside the lookback window.
func (e *Evaluator) EvaluateOffline(ctx context.Context, userID string, deviceList []devices.Device) error {
	if e == nil {
		return errors.New("alert evaluator: nil evaluator")
	}
	thresholds, err := e.thresholds.GetOrCreateNotification(ctx, userID)
	if err != nil {
		return err
	}
	if !thresholds.DeviceOfflineEnabled {
		return nil
	}

	now := e.clock.Now().UTC()
	since := now.Add(-e.offlineLookback)

	var errs []error
	for _, device := range deviceList {
		if !device.IsActive {
			continue
		}
		latest, err := e.history.LatestByDevice(ctx, device.ID)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if latest == nil {
			// Never reported; nothing to go offline from.
			continue
		}
		count, err := e.history.CountSince(ctx, device.ID, since)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if count > 0 {
			continue
		}
		event := alerts.Event{
			UserID:     userID,
			DeviceID:   device.ID,
			DeviceName: device.Name,
			Kind:       alerts.KindDeviceOffline,
			OccurredAt: now,
		}
		if err := e.process(ctx, thresholds, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// process runs the suppression check and, when the key is quiet, sends
// and logs the notification. The check-then-log sequence is serialized
// per (user, device, kind) so overlapping rounds cannot double-send.
func (e *Evaluator) process(ctx context.Context, thresholds *settings.NotificationSetting, event alerts.Event) error {
	if !thresholds.EmailEnabled {
		return nil
	}

	key := event.UserID + "|" + event.DeviceID + "|" + event.Kind
	unlock := e.keys.lock(key)
	defer unlock()

	now := e.clock.Now().UTC()
	suppressed, err := e.logs.ExistsSince(ctx, event.UserID, event.DeviceID, event.Kind, now.Add(-e.suppressionWindow))
	if err != nil {
		return err
	}
	if suppressed {
		metrics.IncAlertSuppressed(event.Kind)
		return nil
	}

	address, err := e.addresses.UserEmail(ctx, event.UserID)
	if err != nil {
		return err
	}
	if address == "" {
		if e.logger != nil {
			e.logger.Printf("alert skipped: user=%s kind=%s no address", event.UserID, event.Kind)
		}
		return nil
	}

	entry := &alerts.LogEntry{
		UserID:   event.UserID,
		DeviceID: event.DeviceID,
		Kind:     event.Kind,
		Status:   alerts.StatusSent,
		SentAt:   now,
	}
	_, sendErr := e.notifier.Notify(ctx, event, address)
	if sendErr != nil {
		// A failed send still occupies the suppression window; the
		// reason is kept for operator visibility.
		entry.Status = alerts.StatusFailed
		entry.Error = sendErr.Error()
		if e.logger != nil {
			e.logger.Printf("alert send failed: user=%s device=%s kind=%s err=%v", event.UserID, event.DeviceID, event.Kind, sendErr)
		}
	}
	metrics.IncAlertNotification(event.Kind, entry.Status)
	if err := e.logs.Insert(ctx, entry); err != nil {
		return err
	}
	return sendErr
}

type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	lock, ok := k.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		k.locks[key] = lock
	}
	k.mu.Unlock()

	lock.Lock()
	return lock.Unlock
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

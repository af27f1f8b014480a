package application

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	devices "powerstation-cloud/internal/devices/domain"
	"powerstation-cloud/internal/ecocloud"
	"powerstation-cloud/internal/observability/metrics"
	readings "powerstation-cloud/internal/readings/domain"
)

// Per-device collection outcomes.
const (
	OutcomeOK     = "ok"
	OutcomeGap    = "gap"
	OutcomeFailed = "failed"
)

// CloudClient fetches telemetry from the device cloud.
type CloudClient interface {
	DeviceQuota(ctx context.Context, sn string) (ecocloud.RawQuota, error)
}

// DeviceLister enumerates devices and their owners.
type DeviceLister interface {
	ListActiveByUser(ctx context.Context, userID string) ([]devices.Device, error)
	ListOwners(ctx context.Context) ([]string, error)
}

// ReadingWriter appends normalized readings.
type ReadingWriter interface {
	Insert(ctx context.Context, reading *readings.Reading) error
}

// CollectionStamper advances per-user collection stamps.
type CollectionStamper interface {
	MarkCollected(ctx context.Context, userID string, at time.Time) error
}

// Alerter evaluates fresh readings and device silence.
type Alerter interface {
	EvaluateReading(ctx context.Context, device devices.Device, reading *readings.Reading) error
	EvaluateOffline(ctx context.Context, userID string, deviceList []devices.Device) error
}

// Clock provides time.
type Clock interface {
	Now() time.Time
}

// DeviceResult is one device's outcome within a round.
type DeviceResult struct {
	DeviceID     string
	SerialNumber string
	Outcome      string
	Err          string
}

// RoundSummary aggregates one collection round for one user.
type RoundSummary struct {
	UserID     string
	Skipped    bool
	RetryAfter time.Duration
	StartedAt  time.Time
	Attempted  int
	Succeeded  int
	Failed     int
	Gaps       int
	Results    []DeviceResult
}

// Collector orchestrates collection rounds: for each due user, fetch
// every active device with bounded parallelism, normalize, persist, and
// hand fresh readings to the alert evaluator. Collection is
// at-least-once; completed per-device persists are never rolled back.
type Collector struct {
	client      CloudClient
	devices     DeviceLister
	readingsW   ReadingWriter
	stamper     CollectionStamper
	scheduler   *Scheduler
	alerter     Alerter
	logger      *log.Logger
	clock       Clock
	concurrency int
	callTimeout time.Duration
}

// CollectorOption customizes the collector.
type CollectorOption func(*Collector)

// WithCollectorClock assigns a clock.
func WithCollectorClock(clock Clock) CollectorOption {
	return func(c *Collector) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithAlerter attaches an alert evaluator to run after each round.
func WithAlerter(alerter Alerter) CollectorOption {
	return func(c *Collector) {
		c.alerter = alerter
	}
}

// NewCollector constructs a collector.
func NewCollector(client CloudClient, deviceLister DeviceLister, readingWriter ReadingWriter, stamper CollectionStamper, scheduler *Scheduler, cfg Config, logger *log.Logger, opts ...CollectorOption) (*Collector, error) {
	if client == nil {
		return nil, errors.New("collector: nil cloud client")
	}
	if deviceLister == nil || readingWriter == nil || stamper == nil {
		return nil, errors.New("collector: nil repository")
	}
	if scheduler == nil {
		return nil, errors.New("collector: nil scheduler")
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	collector := &Collector{
		client:      client,
		devices:     deviceLister,
		readingsW:   readingWriter,
		stamper:     stamper,
		scheduler:   scheduler,
		logger:      logger,
		clock:       systemClock{},
		concurrency: concurrency,
		callTimeout: cfg.CallTimeout(),
	}
	for _, opt := range opts {
		opt(collector)
	}
	return collector, nil
}

// RunRound performs one collection round for a user. A round that is
// not yet due returns a skipped summary carrying the remaining wait.
func (c *Collector) RunRound(ctx context.Context, userID string, force bool) (RoundSummary, error) {
	if c == nil {
		return RoundSummary{}, errors.New("collector: nil collector")
	}
	if userID == "" {
		return RoundSummary{}, errors.New("collector: empty user id")
	}

	start := c.clock.Now().UTC()
	summary := RoundSummary{UserID: userID, StartedAt: start}

	decision, err := c.scheduler.IsDue(ctx, userID, start, force)
	if err != nil {
		return summary, err
	}
	if !decision.Due {
		summary.Skipped = true
		summary.RetryAfter = decision.RetryAfter
		return summary, nil
	}

	deviceList, err := c.devices.ListActiveByUser(ctx, userID)
	if err != nil {
		return summary, err
	}
	if len(deviceList) == 0 {
		return summary, nil
	}

	summary.Attempted = len(deviceList)
	results := make([]DeviceResult, len(deviceList))
	collected := make([]*readings.Reading, len(deviceList))

	// Bounded fan-out: the vendor rate-limits per account, so device
	// calls share one semaphore instead of unbounded goroutines.
	var wg sync.WaitGroup
	sem := make(chan struct{}, c.concurrency)
	for i, device := range deviceList {
		wg.Add(1)
		go func(i int, device devices.Device) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i], collected[i] = c.collectOne(ctx, device, start)
		}(i, device)
	}
	wg.Wait()

	for i := range results {
		switch results[i].Outcome {
		case OutcomeOK:
			summary.Succeeded++
			metrics.IncDeviceResult(metrics.ResultSuccess)
		case OutcomeGap:
			summary.Gaps++
			metrics.IncDeviceResult(metrics.ResultGap)
		default:
			summary.Failed++
			metrics.IncDeviceResult(metrics.ResultFailure)
		}
	}
	summary.Results = results

	// The stamp advances to round start, not to any reading time, so
	// the next due-check is relative to when this round began. A fully
	// failed round leaves the stamp alone and retries promptly.
	if summary.Succeeded > 0 {
		if err := c.stamper.MarkCollected(ctx, userID, start); err != nil {
			c.printf("mark collected failed: user=%s err=%v", userID, err)
		}
	}

	if c.alerter != nil {
		for i, device := range deviceList {
			if collected[i] == nil {
				continue
			}
			if err := c.alerter.EvaluateReading(ctx, device, collected[i]); err != nil {
				c.printf("alert evaluation failed: device=%s err=%v", device.ID, err)
			}
		}
		if err := c.alerter.EvaluateOffline(ctx, userID, deviceList); err != nil {
			c.printf("offline evaluation failed: user=%s err=%v", userID, err)
		}
	}

	result := metrics.ResultSuccess
	if summary.Failed > 0 && summary.Succeeded == 0 {
		result = metrics.ResultFailure
	}
	metrics.ObserveRound(result, c.clock.Now().UTC().Sub(start))
	return summary, nil
}

// RunAllRounds runs one round for every user owning active devices.
// Per-user failures are isolated.
func (c *Collector) RunAllRounds(ctx context.Context, force bool) ([]RoundSummary, error) {
	if c == nil {
		return nil, errors.New("collector: nil collector")
	}
	owners, err := c.devices.ListOwners(ctx)
	if err != nil {
		return nil, err
	}
	summaries := make([]RoundSummary, 0, len(owners))
	for _, userID := range owners {
		if err := ctx.Err(); err != nil {
			return summaries, err
		}
		summary, err := c.RunRound(ctx, userID, force)
		if err != nil {
			c.printf("collection round failed: user=%s err=%v", userID, err)
			continue
		}
		summaries = append(summaries, summary)
	}
	return summaries, nil
}

// collectOne fetches, normalizes and persists one device. Failures stay
// local to the device; an empty snapshot is a gap, not a failure.
func (c *Collector) collectOne(ctx context.Context, device devices.Device, now time.Time) (DeviceResult, *readings.Reading) {
	result := DeviceResult{DeviceID: device.ID, SerialNumber: device.SerialNumber}

	callCtx := ctx
	if c.callTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, c.callTimeout)
		defer cancel()
	}

	quota, err := c.client.DeviceQuota(callCtx, device.SerialNumber)
	if err != nil {
		metrics.IncCloudError(errorClass(err))
		result.Outcome = OutcomeFailed
		result.Err = err.Error()
		c.printf("device fetch failed: sn=%s err=%v", device.SerialNumber, err)
		return result, nil
	}

	reading := readings.Normalize(quota, device.ID, now)
	if reading == nil {
		result.Outcome = OutcomeGap
		return result, nil
	}

	if err := c.readingsW.Insert(ctx, reading); err != nil {
		result.Outcome = OutcomeFailed
		result.Err = err.Error()
		c.printf("reading persist failed: device=%s err=%v", device.ID, err)
		return result, nil
	}

	result.Outcome = OutcomeOK
	return result, reading
}

func (c *Collector) printf(format string, args ...any) {
	if c != nil && c.logger != nil {
		c.logger.Printf(format, args...)
	}
}

func errorClass(err error) string {
	var apiErr *ecocloud.APIError
	var httpErr *ecocloud.HTTPError
	switch {
	case errors.Is(err, ecocloud.ErrMissingCredentials):
		return "auth"
	case ecocloud.IsRetryable(err):
		return "transport"
	case errors.As(err, &apiErr):
		return "api"
	case errors.As(err, &httpErr):
		return "http"
	default:
		return "unknown"
	}
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

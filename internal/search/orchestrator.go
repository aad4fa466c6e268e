// Package search implements the schedule search: inter-appointment
// adjustment, windowing, range splitting, concurrent chunk fetch, validity
// and business-rule filtering, and selection.
package search

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/scheduling-integrator/internal/booking"
	"github.com/wolfman30/scheduling-integrator/internal/entitystore"
	"github.com/wolfman30/scheduling-integrator/internal/flow"
	"github.com/wolfman30/scheduling-integrator/internal/observability/metrics"
	"github.com/wolfman30/scheduling-integrator/internal/sameday"
	"github.com/wolfman30/scheduling-integrator/internal/scheduling"
	"github.com/wolfman30/scheduling-integrator/pkg/logging"
)

var tracer = otel.Tracer("scheduling.internal.search")

const opSearch = "search.GetAvailableSchedules"

// HistorySource lists a patient's current appointments.
type HistorySource interface {
	PatientAppointments(ctx context.Context, integration scheduling.Integration, patientCode string) ([]scheduling.Appointment, error)
}

// Config wires the orchestrator collaborators.
type Config struct {
	Entities entitystore.Repository
	Flows    flow.Matcher
	SameDay  sameday.Handler
	History  HistorySource
	Metrics  *metrics.IntegrationMetrics
	Logger   *logging.Logger
	// DefaultSplitDays applies when neither the integration nor the provider sets one.
	DefaultSplitDays int
	Now              func() time.Time
	Shuffle          func(n int, swap func(i, j int))
}

// Orchestrator runs schedule searches against one adapter at a time.
type Orchestrator struct {
	entities         entitystore.Repository
	flows            flow.Matcher
	sameDay          sameday.Handler
	history          HistorySource
	metrics          *metrics.IntegrationMetrics
	logger           *logging.Logger
	defaultSplitDays int
	now              func() time.Time
	shuffle          func(n int, swap func(i, j int))
}

// New builds an Orchestrator.
func New(cfg Config) *Orchestrator {
	if cfg.Entities == nil {
		panic("search: entity repository cannot be nil")
	}
	if cfg.Flows == nil {
		cfg.Flows = flow.PassThrough{}
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Shuffle == nil {
		cfg.Shuffle = defaultShuffle
	}
	return &Orchestrator{
		entities:         cfg.Entities,
		flows:            cfg.Flows,
		sameDay:          cfg.SameDay,
		history:          cfg.History,
		metrics:          cfg.Metrics,
		logger:           cfg.Logger,
		defaultSplitDays: cfg.DefaultSplitDays,
		now:              cfg.Now,
		shuffle:          cfg.Shuffle,
	}
}

// Search returns the available schedules for req. filter is req.Filter already
// resolved. An empty schedule list is a successful answer.
func (o *Orchestrator) Search(ctx context.Context, adapter booking.Adapter, integration scheduling.Integration, filter scheduling.CorrelationFilter, req scheduling.ListAvailableSchedules) (*scheduling.AvailableSchedules, error) {
	ctx, span := tracer.Start(ctx, "search.available_schedules")
	defer span.End()
	span.SetAttributes(
		attribute.String("scheduling.integration_id", integration.ID),
		attribute.String("scheduling.provider", adapter.Name()),
	)
	logger := o.logger.WithIntegration(integration.ID, adapter.Name())

	now := o.now().In(integration.Location())
	var meta scheduling.ScheduleMetadata

	fromDay, err := o.adjustForInterAppointment(ctx, integration, filter, req, now, &meta)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	if err := validatePeriod(req); err != nil {
		return nil, err
	}

	windows, err := o.windows(adapter, integration, req, fromDay, now)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.Int("scheduling.chunks", len(windows)))

	slots, fetchMeta, err := o.fetchChunks(ctx, adapter, filter, req, windows, logger)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	meta.Merge(fetchMeta)
	slots = dropPast(slots, now)

	slots, err = o.filterByDoctorValidity(ctx, integration, filter, req, slots, now)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	slots, meta = o.applySameDayRules(ctx, integration, filter, req, slots, meta, logger)

	selected := o.selectSchedules(slots, req, integration.Location())
	span.SetAttributes(attribute.Int("scheduling.schedules", len(selected)))
	return &scheduling.AvailableSchedules{Schedules: selected, Metadata: meta}, nil
}

// window is one upstream request range.
type window struct {
	start time.Time
	end   time.Time
}

// windows builds the chunk windows, clamped to req.DateLimit.
func (o *Orchestrator) windows(adapter booking.Adapter, integration scheduling.Integration, req scheduling.ListAvailableSchedules, fromDay int, now time.Time) ([]window, error) {
	providerLimit := o.defaultSplitDays
	if l, ok := adapter.(booking.SearchLimiter); ok && l.MaxDaysPerSearch() > 0 {
		providerLimit = l.MaxDaysPerSearch()
	}
	maxDays := integration.Rules.SplitDays(providerLimit)

	dayRange := scheduling.SearchRange(fromDay, req.UntilDay)
	first, _ := dayRange.Window(now)
	if req.DateLimit != nil && first.After(*req.DateLimit) {
		return nil, scheduling.IntegrationError(opSearch, nil, "search window starts after date limit %s", req.DateLimit.Format(time.RFC3339))
	}

	chunks := dayRange.Split(maxDays)
	out := make([]window, 0, len(chunks))
	for _, chunk := range chunks {
		start, end := chunk.Window(now)
		if req.DateLimit != nil {
			if start.After(*req.DateLimit) {
				break
			}
			if end.After(*req.DateLimit) {
				end = *req.DateLimit
			}
		}
		out = append(out, window{start: start, end: end})
	}
	return out, nil
}

type chunkResult struct {
	result *booking.AvailabilityResult
	err    error
}

// fetchChunks issues one request per window concurrently and merges the
// successful ones. It fails only when every chunk fails.
func (o *Orchestrator) fetchChunks(ctx context.Context, adapter booking.Adapter, filter scheduling.CorrelationFilter, req scheduling.ListAvailableSchedules, windows []window, logger *logging.Logger) ([]scheduling.Appointment, scheduling.ScheduleMetadata, error) {
	results := make([]chunkResult, len(windows))
	var wg sync.WaitGroup
	for i, w := range windows {
		i, w := i, w
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := adapter.GetAvailableSchedules(ctx, booking.AvailabilityRequest{
				Filter:      filter,
				Start:       w.start,
				End:         w.end,
				Patient:     req.Patient,
				PeriodOfDay: req.PeriodOfDay,
			})
			results[i] = chunkResult{result: res, err: err}
		}()
	}
	wg.Wait()

	var (
		meta     scheduling.ScheduleMetadata
		slots    []scheduling.Appointment
		failed   int
		firstErr error
	)
	for i, r := range results {
		if r.err != nil {
			failed++
			if firstErr == nil {
				firstErr = r.err
			}
			o.metrics.ObserveSearchChunk("failed")
			logger.Warn("schedule search chunk failed",
				"chunk", i,
				"start", windows[i].start.Format(time.RFC3339),
				"end", windows[i].end.Format(time.RFC3339),
				"error", r.err,
			)
			continue
		}
		o.metrics.ObserveSearchChunk("ok")
		if r.result == nil {
			continue
		}
		slots = append(slots, r.result.Schedules...)
		meta.Merge(r.result.Metadata)
	}
	if len(windows) > 0 && failed == len(windows) {
		return nil, meta, scheduling.IntegrationError(opSearch, firstErr, "all %d search chunks failed", failed)
	}
	meta.FailedChunks = failed

	sort.SliceStable(slots, func(i, j int) bool {
		return slots[i].AppointmentDate.Before(slots[j].AppointmentDate)
	})
	return slots, meta, nil
}

// dropPast keeps only slots strictly after now.
func dropPast(slots []scheduling.Appointment, now time.Time) []scheduling.Appointment {
	out := make([]scheduling.Appointment, 0, len(slots))
	for _, s := range slots {
		if s.AppointmentDate.After(now) {
			out = append(out, s)
		}
	}
	return out
}

func validatePeriod(req scheduling.ListAvailableSchedules) error {
	if req.Period != nil {
		if _, _, err := req.Period.Bounds(); err != nil {
			return scheduling.IntegrationError(opSearch, err, "invalid period")
		}
	}
	if req.PeriodOfDay != "" {
		if _, _, ok := req.PeriodOfDay.Bounds(); !ok {
			return scheduling.IntegrationError(opSearch, nil, "invalid period of day %q", req.PeriodOfDay)
		}
	}
	return nil
}

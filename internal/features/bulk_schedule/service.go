package bulk_schedule

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go-crm-bulk/internal/features/bulk_operation"
	"go-crm-bulk/internal/features/bulk_template"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

var (
	ErrScheduleNotFound = errors.New("schedule not found")
	ErrInvalidSchedule  = errors.New("invalid schedule")
)

// TargetRunner loads a target's records and runs them with a write-through
// sink. bulk_operation.BulkOperationService satisfies it.
type TargetRunner interface {
	RunOnTarget(ctx context.Context, target bulk_operation.Target, run bulk_operation.RunFunc) (*bulk_operation.OperationResult, error)
}

type TemplateApplier interface {
	GetTemplate(ctx context.Context, id string) (*bulk_template.Template, error)
	ApplyTemplate(ctx context.Context, id string, items []bulk_operation.Record, sink bulk_operation.ItemUpdateFunc) (*bulk_operation.OperationResult, error)
}

type ScheduleService interface {
	CreateSchedule(ctx context.Context, schedule *Schedule) error
	GetSchedule(ctx context.Context, id string) (*Schedule, error)
	ListSchedules(ctx context.Context, filter map[string]any) ([]Schedule, error)
	SetEnabled(ctx context.Context, id string, enabled bool) error
	DeleteSchedule(ctx context.Context, id string) error
	RunSchedule(ctx context.Context, id string) (RunSummary, error)
	InitializeScheduler(ctx context.Context) error
	StopScheduler() error
}

type ScheduleServiceImpl struct {
	repo      ScheduleRepository
	bulk      TargetRunner
	templates TemplateApplier
	logger    *zap.Logger
	now       func() time.Time

	scheduler  *cron.Cron
	jobEntries map[string]cron.EntryID
	mu         sync.RWMutex
}

func NewScheduleService(repo ScheduleRepository, bulk bulk_operation.BulkOperationService, templates *bulk_template.Store, logger *zap.Logger) ScheduleService {
	return newScheduleService(repo, bulk, templates, logger)
}

func newScheduleService(repo ScheduleRepository, bulk TargetRunner, templates TemplateApplier, logger *zap.Logger) *ScheduleServiceImpl {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ScheduleServiceImpl{
		repo:       repo,
		bulk:       bulk,
		templates:  templates,
		logger:     logger.Named("bulk_schedule"),
		now:        time.Now,
		jobEntries: make(map[string]cron.EntryID),
	}
}

func (s *ScheduleServiceImpl) CreateSchedule(ctx context.Context, schedule *Schedule) error {
	if err := s.validate(ctx, schedule); err != nil {
		return err
	}

	sched, _ := cron.ParseStandard(schedule.Cron)
	now := s.now()
	next := sched.Next(now)
	schedule.CreatedAt = now
	schedule.UpdatedAt = now
	schedule.NextRunAt = &next

	if err := s.repo.Create(ctx, schedule); err != nil {
		return err
	}

	if schedule.Enabled && s.running() {
		if err := s.RegisterJob(schedule); err != nil {
			s.logger.Warn("failed to register schedule", zap.String("schedule_id", schedule.ID.Hex()), zap.Error(err))
		}
	}
	return nil
}

func (s *ScheduleServiceImpl) validate(ctx context.Context, schedule *Schedule) error {
	switch {
	case strings.TrimSpace(schedule.Name) == "":
		return fmt.Errorf("%w: name is required", ErrInvalidSchedule)
	case schedule.TemplateID == "":
		return fmt.Errorf("%w: template_id is required", ErrInvalidSchedule)
	case schedule.ModuleName == "":
		return fmt.Errorf("%w: module_name is required", ErrInvalidSchedule)
	}
	if _, err := cron.ParseStandard(schedule.Cron); err != nil {
		return fmt.Errorf("%w: invalid cron expression: %v", ErrInvalidSchedule, err)
	}
	if _, err := s.templates.GetTemplate(ctx, schedule.TemplateID); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSchedule, err)
	}
	return nil
}

func (s *ScheduleServiceImpl) GetSchedule(ctx context.Context, id string) (*Schedule, error) {
	schedule, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if schedule == nil {
		return nil, fmt.Errorf("%w: %s", ErrScheduleNotFound, id)
	}
	return schedule, nil
}

func (s *ScheduleServiceImpl) ListSchedules(ctx context.Context, filter map[string]any) ([]Schedule, error) {
	return s.repo.List(ctx, filter)
}

func (s *ScheduleServiceImpl) SetEnabled(ctx context.Context, id string, enabled bool) error {
	schedule, err := s.GetSchedule(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.SetEnabled(ctx, id, enabled); err != nil {
		return err
	}

	s.UnregisterJob(id)
	if enabled && s.running() {
		schedule.Enabled = true
		return s.RegisterJob(schedule)
	}
	return nil
}

func (s *ScheduleServiceImpl) DeleteSchedule(ctx context.Context, id string) error {
	if _, err := s.GetSchedule(ctx, id); err != nil {
		return err
	}
	s.UnregisterJob(id)
	return s.repo.Delete(ctx, id)
}

// RunSchedule runs a schedule immediately, outside its cron cadence.
func (s *ScheduleServiceImpl) RunSchedule(ctx context.Context, id string) (RunSummary, error) {
	schedule, err := s.GetSchedule(ctx, id)
	if err != nil {
		return RunSummary{}, err
	}
	return s.execute(ctx, schedule)
}

// execute applies the schedule's template through the bulk service. A run
// rejected because another operation holds the engine is recorded as
// skipped.
func (s *ScheduleServiceImpl) execute(ctx context.Context, schedule *Schedule) (RunSummary, error) {
	id := schedule.ID.Hex()
	start := s.now()
	target := bulk_operation.Target{ModuleName: schedule.ModuleName, Filters: schedule.Filters}

	result, err := s.bulk.RunOnTarget(ctx, target, func(runCtx context.Context, items []bulk_operation.Record, sink bulk_operation.ItemUpdateFunc) (*bulk_operation.OperationResult, error) {
		return s.templates.ApplyTemplate(runCtx, schedule.TemplateID, items, sink)
	})

	var summary RunSummary
	if result != nil {
		summary.OperationID = result.OperationID
		summary.SuccessCount = result.SuccessCount
		summary.FailureCount = result.FailureCount
	}
	switch {
	case errors.Is(err, bulk_operation.ErrOperationInProgress):
		summary.Skipped = true
		summary.Error = err.Error()
		s.logger.Warn("skipping scheduled bulk run, engine busy", zap.String("schedule_id", id), zap.String("schedule", schedule.Name))
	case err != nil:
		summary.Error = err.Error()
		s.logger.Error("scheduled bulk run failed", zap.String("schedule_id", id), zap.Error(err))
	default:
		s.logger.Info("scheduled bulk run finished",
			zap.String("schedule_id", id),
			zap.String("operation_id", summary.OperationID),
			zap.Int("success", summary.SuccessCount),
			zap.Int("failed", summary.FailureCount),
		)
	}

	var next *time.Time
	if sched, perr := cron.ParseStandard(schedule.Cron); perr == nil {
		n := sched.Next(s.now())
		next = &n
	}
	if uerr := s.repo.UpdateLastRun(ctx, id, start, next, summary); uerr != nil {
		s.logger.Warn("failed to record schedule run", zap.String("schedule_id", id), zap.Error(uerr))
	}
	return summary, err
}

func (s *ScheduleServiceImpl) InitializeScheduler(ctx context.Context) error {
	s.logger.Info("initializing bulk scheduler")
	s.mu.Lock()
	s.scheduler = cron.New()
	s.mu.Unlock()

	schedules, err := s.repo.GetActive(ctx)
	if err != nil {
		return fmt.Errorf("failed to load active schedules: %w", err)
	}

	for i := range schedules {
		if err := s.RegisterJob(&schedules[i]); err != nil {
			s.logger.Warn("failed to register schedule", zap.String("schedule_id", schedules[i].ID.Hex()), zap.Error(err))
		}
	}

	s.scheduler.Start()
	return nil
}

func (s *ScheduleServiceImpl) StopScheduler() error {
	s.mu.RLock()
	scheduler := s.scheduler
	s.mu.RUnlock()
	if scheduler != nil {
		<-scheduler.Stop().Done()
	}
	return nil
}

func (s *ScheduleServiceImpl) RegisterJob(schedule *Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.scheduler == nil {
		return fmt.Errorf("scheduler not initialized")
	}

	id := schedule.ID.Hex()
	job := func() {
		ctx := context.Background()
		latest, err := s.repo.GetByID(ctx, id)
		if err != nil || latest == nil || !latest.Enabled {
			return
		}
		s.execute(ctx, latest)
	}

	entryID, err := s.scheduler.AddFunc(schedule.Cron, job)
	if err != nil {
		return fmt.Errorf("failed to add schedule to scheduler: %w", err)
	}
	s.jobEntries[id] = entryID
	return nil
}

func (s *ScheduleServiceImpl) UnregisterJob(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entryID, exists := s.jobEntries[id]; exists {
		s.scheduler.Remove(entryID)
		delete(s.jobEntries, id)
	}
}

func (s *ScheduleServiceImpl) running() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.scheduler != nil
}

package bulk_schedule

import (
	"context"
	"fmt"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"go-crm-bulk/internal/features/bulk_operation"
	"go-crm-bulk/internal/features/bulk_template"
	"go-crm-bulk/internal/kvstore"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type fakeRepo struct {
	mu        sync.Mutex
	schedules map[string]*Schedule
	lastRuns  map[string]RunSummary
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{schedules: make(map[string]*Schedule), lastRuns: make(map[string]RunSummary)}
}

func (r *fakeRepo) Create(_ context.Context, schedule *Schedule) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	schedule.ID = primitive.NewObjectID()
	copied := *schedule
	r.schedules[schedule.ID.Hex()] = &copied
	return nil
}

func (r *fakeRepo) GetByID(_ context.Context, id string) (*Schedule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.schedules[id]
	if !ok {
		return nil, nil
	}
	copied := *s
	return &copied, nil
}

func (r *fakeRepo) List(_ context.Context, filter map[string]any) ([]Schedule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []Schedule{}
	for _, s := range r.schedules {
		if enabled, ok := filter["enabled"]; ok && enabled != s.Enabled {
			continue
		}
		out = append(out, *s)
	}
	return out, nil
}

func (r *fakeRepo) GetActive(ctx context.Context) ([]Schedule, error) {
	return r.List(ctx, map[string]any{"enabled": true})
}

func (r *fakeRepo) SetEnabled(_ context.Context, id string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.schedules[id].Enabled = enabled
	return nil
}

func (r *fakeRepo) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.schedules, id)
	return nil
}

func (r *fakeRepo) UpdateLastRun(_ context.Context, id string, lastRun time.Time, nextRun *time.Time, result RunSummary) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.schedules[id]; ok {
		s.LastRunAt = &lastRun
		s.NextRunAt = nextRun
		s.LastResult = &result
	}
	r.lastRuns[id] = result
	return nil
}

// fakeRunner feeds fixed records to the run and records the target it was
// asked for.
type fakeRunner struct {
	items   []bulk_operation.Record
	err     error
	targets []bulk_operation.Target
}

func (f *fakeRunner) RunOnTarget(ctx context.Context, target bulk_operation.Target, run bulk_operation.RunFunc) (*bulk_operation.OperationResult, error) {
	f.targets = append(f.targets, target)
	if f.err != nil {
		return nil, f.err
	}
	return run(ctx, f.items, nil)
}

func products(n int) []bulk_operation.Record {
	items := make([]bulk_operation.Record, n)
	for i := range items {
		items[i] = bulk_operation.Record{
			ID:     fmt.Sprintf("p%d", i+1),
			Fields: map[string]any{"name": fmt.Sprintf("Product %d", i+1), "isActive": true},
		}
	}
	return items
}

type fixture struct {
	repo      *fakeRepo
	runner    *fakeRunner
	templates *bulk_template.Store
	service   *ScheduleServiceImpl
	template  *bulk_template.Template
}

func newFixture(t *testing.T, logger *zap.Logger) *fixture {
	t.Helper()
	engine := bulk_operation.NewEngine(bulk_operation.EngineConfig{})
	templates := bulk_template.NewStore(kvstore.NewMemoryStore(), engine, nil, "")
	tmpl, err := templates.SaveTemplate(context.Background(), "Deactivate", "", map[string]any{"isActive": false}, "")
	require.NoError(t, err)

	f := &fixture{
		repo:      newFakeRepo(),
		runner:    &fakeRunner{items: products(3)},
		templates: templates,
		template:  tmpl,
	}
	f.service = newScheduleService(f.repo, f.runner, templates, logger)
	t.Cleanup(func() { f.service.StopScheduler() })
	return f
}

func (f *fixture) schedule(cronExpr string, enabled bool) *Schedule {
	return &Schedule{
		Name:       "Nightly deactivate",
		TemplateID: f.template.ID,
		ModuleName: "products",
		Filters:    map[string]any{"status": "archived"},
		Cron:       cronExpr,
		Enabled:    enabled,
	}
}

func TestCreateScheduleValidation(t *testing.T) {
	f := newFixture(t, nil)

	tests := []struct {
		name   string
		modify func(*Schedule)
	}{
		{"missing name", func(s *Schedule) { s.Name = " " }},
		{"missing template", func(s *Schedule) { s.TemplateID = "" }},
		{"unknown template", func(s *Schedule) { s.TemplateID = "nope" }},
		{"missing module", func(s *Schedule) { s.ModuleName = "" }},
		{"bad cron", func(s *Schedule) { s.Cron = "every day" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := f.schedule("0 2 * * *", true)
			tt.modify(s)
			assert.ErrorIs(t, f.service.CreateSchedule(context.Background(), s), ErrInvalidSchedule)
		})
	}
	assert.Empty(t, f.repo.schedules)
}

func TestCreateScheduleComputesNextRunAndRegisters(t *testing.T) {
	f := newFixture(t, nil)
	f.service.now = func() time.Time { return time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC) }
	require.NoError(t, f.service.InitializeScheduler(context.Background()))

	s := f.schedule("0 2 * * *", true)
	require.NoError(t, f.service.CreateSchedule(context.Background(), s))

	require.NotNil(t, s.NextRunAt)
	assert.Equal(t, time.Date(2026, 3, 2, 2, 0, 0, 0, time.UTC), s.NextRunAt.UTC())
	assert.Contains(t, f.service.jobEntries, s.ID.Hex())

	disabled := f.schedule("0 3 * * *", false)
	require.NoError(t, f.service.CreateSchedule(context.Background(), disabled))
	assert.NotContains(t, f.service.jobEntries, disabled.ID.Hex())
}

func TestRunScheduleAppliesTemplate(t *testing.T) {
	f := newFixture(t, nil)
	s := f.schedule("*/5 * * * *", true)
	require.NoError(t, f.service.CreateSchedule(context.Background(), s))

	summary, err := f.service.RunSchedule(context.Background(), s.ID.Hex())
	require.NoError(t, err)
	assert.Equal(t, 3, summary.SuccessCount)
	assert.NotEmpty(t, summary.OperationID)
	assert.False(t, summary.Skipped)

	require.Len(t, f.runner.targets, 1)
	assert.Equal(t, "products", f.runner.targets[0].ModuleName)
	assert.Equal(t, "archived", f.runner.targets[0].Filters["status"])

	stored, err := f.service.GetSchedule(context.Background(), s.ID.Hex())
	require.NoError(t, err)
	require.NotNil(t, stored.LastRunAt)
	assert.Equal(t, summary, *stored.LastResult)

	tmpl, err := f.templates.GetTemplate(context.Background(), f.template.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, tmpl.UsageCount)
}

func TestRunScheduleSkipsWhenBusy(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	f := newFixture(t, zap.New(core))
	f.runner.err = bulk_operation.ErrOperationInProgress
	s := f.schedule("*/5 * * * *", true)
	require.NoError(t, f.service.CreateSchedule(context.Background(), s))

	summary, err := f.service.RunSchedule(context.Background(), s.ID.Hex())
	assert.ErrorIs(t, err, bulk_operation.ErrOperationInProgress)
	assert.True(t, summary.Skipped)
	assert.Equal(t, 1, logs.FilterMessage("skipping scheduled bulk run, engine busy").Len())
	assert.True(t, f.repo.lastRuns[s.ID.Hex()].Skipped)

	tmpl, _ := f.templates.GetTemplate(context.Background(), f.template.ID)
	assert.Zero(t, tmpl.UsageCount)
}

func TestInitializeSchedulerRegistersActiveSchedules(t *testing.T) {
	f := newFixture(t, nil)
	for _, s := range []*Schedule{
		f.schedule("0 1 * * *", true),
		f.schedule("0 1 * * *", false),
		f.schedule("not a cron", true),
	} {
		require.NoError(t, f.repo.Create(context.Background(), s))
	}

	require.NoError(t, f.service.InitializeScheduler(context.Background()))
	assert.Len(t, f.service.jobEntries, 1)
}

func TestSetEnabledAndDelete(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.service.InitializeScheduler(context.Background()))
	s := f.schedule("0 4 * * *", true)
	require.NoError(t, f.service.CreateSchedule(context.Background(), s))
	id := s.ID.Hex()

	require.NoError(t, f.service.SetEnabled(context.Background(), id, false))
	assert.NotContains(t, f.service.jobEntries, id)
	require.NoError(t, f.service.SetEnabled(context.Background(), id, true))
	assert.Contains(t, f.service.jobEntries, id)

	require.NoError(t, f.service.DeleteSchedule(context.Background(), id))
	assert.Empty(t, f.service.jobEntries)
	_, err := f.service.GetSchedule(context.Background(), id)
	assert.ErrorIs(t, err, ErrScheduleNotFound)
	assert.ErrorIs(t, f.service.DeleteSchedule(context.Background(), id), ErrScheduleNotFound)
}

func TestScheduleController(t *testing.T) {
	f := newFixture(t, nil)
	app := fiber.New()
	NewScheduleApi(NewScheduleController(f.service)).Setup(app)

	body := fmt.Sprintf(`{"name":"Nightly","template_id":%q,"module_name":"products","cron":"0 2 * * *"}`, f.template.ID)
	req := httptest.NewRequest(fiber.MethodPost, "/api/bulk/schedules", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusCreated, resp.StatusCode)
	require.Len(t, f.repo.schedules, 1)
	for _, s := range f.repo.schedules {
		assert.True(t, s.Enabled)
	}

	req = httptest.NewRequest(fiber.MethodPost, "/api/bulk/schedules", strings.NewReader(`{"name":"x","cron":"0 2 * * *"}`))
	req.Header.Set("Content-Type", "application/json")
	resp, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	missing := primitive.NewObjectID().Hex()
	resp, err = app.Test(httptest.NewRequest(fiber.MethodGet, "/api/bulk/schedules/"+missing, nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusNotFound, resp.StatusCode)

	f.runner.err = bulk_operation.ErrOperationInProgress
	for id := range f.repo.schedules {
		resp, err = app.Test(httptest.NewRequest(fiber.MethodPost, "/api/bulk/schedules/"+id+"/run", nil))
		require.NoError(t, err)
		assert.Equal(t, fiber.StatusConflict, resp.StatusCode)
	}
}

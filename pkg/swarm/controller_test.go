package swarm

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ensemble/maestro/pkg/bus"
	"github.com/ensemble/maestro/pkg/models"
)

type fakeWorker struct {
	mu     sync.Mutex
	calls  int
	failFn string
}

func (w *fakeWorker) Execute(_ context.Context, packet *MethodJobPacket) (*models.CodeDocument, error) {
	w.mu.Lock()
	w.calls++
	w.mu.Unlock()
	if w.failFn != "" && packet.Function.FunctionName == w.failFn {
		return nil, errors.New("model refused to cooperate")
	}
	return &models.CodeDocument{
		ProjectID:    packet.ProjectID,
		PipelineID:   packet.PipelineID,
		CodeUnitName: packet.CodeUnitName,
		FunctionName: packet.Function.FunctionName,
		Content:      "// generated",
	}, nil
}

func (w *fakeWorker) callCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.calls
}

type fakeDocStore struct {
	mu   sync.Mutex
	docs []*models.CodeDocument
}

func (s *fakeDocStore) SaveDocument(_ context.Context, doc *models.CodeDocument) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs = append(s.docs, doc)
	return nil
}

func (s *fakeDocStore) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.docs)
}

type fakeProgressStore struct {
	mu        sync.Mutex
	completed int
	failed    int
}

func (s *fakeProgressStore) RecordFunctionOutcome(_ context.Context, _ string, failed bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if failed {
		s.failed++
	} else {
		s.completed++
	}
	return nil
}

func (s *fakeProgressStore) outcomes() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.completed, s.failed
}

type fakeUnitStore struct {
	mu       sync.Mutex
	statuses map[string]models.CodeUnitStatus
}

func newFakeUnitStore() *fakeUnitStore {
	return &fakeUnitStore{statuses: make(map[string]models.CodeUnitStatus)}
}

func (s *fakeUnitStore) GetCodeUnit(_ context.Context, _ string, name string) (*models.CodeUnit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	status, ok := s.statuses[name]
	if !ok {
		return nil, errors.New("code unit not found")
	}
	return &models.CodeUnit{Name: name, Status: status}, nil
}

func (s *fakeUnitStore) UpdateCodeUnitProgress(_ context.Context, _ string, name string, status models.CodeUnitStatus, _ float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[name] = status
	return nil
}

func (s *fakeUnitStore) statusOf(name string) models.CodeUnitStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statuses[name]
}

type controllerFixture struct {
	coordinator *bus.Coordinator
	worker      *fakeWorker
	docs        *fakeDocStore
	progress    *fakeProgressStore
	units       *fakeUnitStore
	controller  *Controller
}

func newControllerFixture(t *testing.T) *controllerFixture {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Throttling.Enabled = false
	return newControllerFixtureWithConfig(t, cfg)
}

func newControllerFixtureWithConfig(t *testing.T, cfg Config) *controllerFixture {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	coordinator := bus.NewCoordinator(rdb)
	require.NoError(t, coordinator.Initialize(context.Background()))

	worker := &fakeWorker{}
	docs := &fakeDocStore{}
	progress := &fakeProgressStore{}
	units := newFakeUnitStore()
	controller := NewController(cfg, NewPolicy(cfg), worker, docs, progress, units, coordinator)

	return &controllerFixture{
		coordinator: coordinator,
		worker:      worker,
		docs:        docs,
		progress:    progress,
		units:       units,
		controller:  controller,
	}
}

func (f *controllerFixture) newAssignment(functions ...models.FunctionAssignment) *models.CodeUnitAssignment {
	return &models.CodeUnitAssignment{
		AssignmentID:   "assign-1",
		CodeUnitID:     "cu-1",
		ProjectID:      "proj-1",
		PipelineID:     "pipe-1",
		Name:           "UserService",
		UnitType:       models.UnitTypeService,
		Functions:      functions,
		Priority:       models.PriorityHigh,
		TargetLanguage: "C#",
		AssignedAt:     time.Now().UTC(),
	}
}

func testFunction(name string) models.FunctionAssignment {
	return models.FunctionAssignment{
		FunctionName:     name,
		CodeUnit:         "UserService",
		Signature:        "public async Task " + name + "Async()",
		Description:      "does " + name,
		ComplexityRating: 3,
		Priority:         models.PriorityMedium,
		TargetLanguage:   "C#",
	}
}

// receiveDecoded pops one message from the queue and decodes it into out,
// returning false when the queue is empty.
func (f *controllerFixture) receiveDecoded(t *testing.T, queue string, out any) bool {
	t.Helper()
	env, err := f.coordinator.Receive(context.Background(), queue, 200*time.Millisecond)
	require.NoError(t, err)
	if env == nil {
		return false
	}
	require.NoError(t, env.Decode(out))
	require.NoError(t, f.coordinator.Acknowledge(context.Background(), queue, env.ID))
	return true
}

func TestProcessGeneratesDocumentsAndNotifiesOnce(t *testing.T) {
	f := newControllerFixture(t)
	assignment := f.newAssignment(testFunction("Create"), testFunction("Update"))

	require.NoError(t, f.controller.Process(context.Background(), assignment))

	assert.Equal(t, 2, f.worker.callCount())
	assert.Equal(t, 2, f.docs.count())
	completed, failed := f.progress.outcomes()
	assert.Equal(t, 2, completed)
	assert.Zero(t, failed)
	assert.Zero(t, f.controller.ActiveUnits())

	var notification models.BuilderNotification
	require.True(t, f.receiveDecoded(t, bus.QueueBuilderNotifications, &notification))
	assert.Equal(t, "UserService", notification.CodeUnitName)
	assert.Equal(t, models.BuilderStatusComplete, notification.Status)
	assert.Equal(t, "pipe-1", notification.PipelineID)

	var second models.BuilderNotification
	assert.False(t, f.receiveDecoded(t, bus.QueueBuilderNotifications, &second),
		"expected exactly one notification per code unit")
}

func TestProcessFunctionFailureEmitsBuilderError(t *testing.T) {
	f := newControllerFixture(t)
	f.worker.failFn = "Delete"
	assignment := f.newAssignment(testFunction("Create"), testFunction("Delete"))

	require.NoError(t, f.controller.Process(context.Background(), assignment))

	assert.Equal(t, 1, f.docs.count())
	completed, failed := f.progress.outcomes()
	assert.Equal(t, 1, completed)
	assert.Equal(t, 1, failed)

	var builderErr models.BuilderError
	require.True(t, f.receiveDecoded(t, bus.QueueBuilderErrors, &builderErr))
	assert.Equal(t, "FunctionProcessingError", builderErr.ErrorType)
	assert.Equal(t, 6, builderErr.Severity)
	require.NotNil(t, builderErr.FunctionName)
	assert.Equal(t, "Delete", *builderErr.FunctionName)
	assert.Equal(t, []string{"Delete"}, builderErr.RelatedFunctions)

	// A partial failure still completes the unit.
	var notification models.BuilderNotification
	require.True(t, f.receiveDecoded(t, bus.QueueBuilderNotifications, &notification))
	assert.Equal(t, models.BuilderStatusComplete, notification.Status)
	assert.Zero(t, f.controller.ActiveUnits())
}

func TestProcessEmptyAssignmentNotifiesImmediately(t *testing.T) {
	f := newControllerFixture(t)
	assignment := f.newAssignment()

	require.NoError(t, f.controller.Process(context.Background(), assignment))

	assert.Zero(t, f.worker.callCount())
	assert.Zero(t, f.controller.ActiveUnits())

	var notification models.BuilderNotification
	require.True(t, f.receiveDecoded(t, bus.QueueBuilderNotifications, &notification))
	assert.Equal(t, models.BuilderStatusComplete, notification.Status)
}

func TestProcessSingleFunction(t *testing.T) {
	f := newControllerFixture(t)
	assignment := f.newAssignment(testFunction("Create"))

	require.NoError(t, f.controller.Process(context.Background(), assignment))

	assert.Equal(t, 1, f.docs.count())
	var notification models.BuilderNotification
	require.True(t, f.receiveDecoded(t, bus.QueueBuilderNotifications, &notification))
}

func TestProcessDropsRedeliveredAssignment(t *testing.T) {
	f := newControllerFixture(t)
	assignment := f.newAssignment(testFunction("Create"))

	// Mark the unit as already in flight, as a visibility-timeout redelivery
	// arriving mid-processing would see it.
	f.controller.mu.Lock()
	f.controller.active[unitKey{id: assignment.CodeUnitID, name: assignment.Name}] = 1
	f.controller.mu.Unlock()

	require.NoError(t, f.controller.Process(context.Background(), assignment))

	assert.Zero(t, f.worker.callCount())
	var notification models.BuilderNotification
	assert.False(t, f.receiveDecoded(t, bus.QueueBuilderNotifications, &notification))
}

func TestProcessHoldsSpawnsAtThrottleLimit(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Throttling.Enabled = true
	cfg.Throttling.MaxAgentsPerSecond = 1
	cfg.Throttling.MaxAgentsPerMinute = 100
	cfg.Throttling.MinSpawnIntervalMs = 0
	f := newControllerFixtureWithConfig(t, cfg)
	assignment := f.newAssignment(testFunction("Create"), testFunction("Update"))

	start := time.Now()
	require.NoError(t, f.controller.Process(context.Background(), assignment))
	elapsed := time.Since(start)

	// At one spawn per second the second worker must wait out the window.
	assert.GreaterOrEqual(t, elapsed, time.Second,
		"second spawn started inside the per-second window")
	assert.Equal(t, 2, f.worker.callCount())
	assert.Equal(t, 2, f.docs.count())

	var notification models.BuilderNotification
	require.True(t, f.receiveDecoded(t, bus.QueueBuilderNotifications, &notification))
	var second models.BuilderNotification
	assert.False(t, f.receiveDecoded(t, bus.QueueBuilderNotifications, &second))
}

func TestProcessAbandonsThrottledSpawnOnContextEnd(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Throttling.Enabled = true
	cfg.Throttling.MaxAgentsPerSecond = 1
	cfg.Throttling.MaxAgentsPerMinute = 100
	cfg.Throttling.MinSpawnIntervalMs = 0
	f := newControllerFixtureWithConfig(t, cfg)
	assignment := f.newAssignment(testFunction("Create"), testFunction("Update"))

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	require.NoError(t, f.controller.Process(ctx, assignment))

	// The first spawn runs, the throttled second is abandoned with the
	// context, and the unit still drains.
	assert.Equal(t, 1, f.worker.callCount())
	assert.Zero(t, f.controller.ActiveUnits())
}

func TestProcessDropsRedeliveryOfCompletedUnit(t *testing.T) {
	f := newControllerFixture(t)
	assignment := f.newAssignment(testFunction("Create"))

	require.NoError(t, f.controller.Process(context.Background(), assignment))
	assert.Equal(t, 1, f.worker.callCount())
	assert.Equal(t, models.CodeUnitStatusComplete, f.units.statusOf(assignment.Name))

	var notification models.BuilderNotification
	require.True(t, f.receiveDecoded(t, bus.QueueBuilderNotifications, &notification))

	// A visibility-timeout redelivery landing after the drain must not
	// reprocess the unit or notify again.
	require.NoError(t, f.controller.Process(context.Background(), assignment))

	assert.Equal(t, 1, f.worker.callCount())
	assert.Equal(t, 1, f.docs.count())
	var second models.BuilderNotification
	assert.False(t, f.receiveDecoded(t, bus.QueueBuilderNotifications, &second))
}

func TestReportAssignmentFailure(t *testing.T) {
	f := newControllerFixture(t)
	assignment := f.newAssignment(testFunction("Create"))

	f.controller.ReportAssignmentFailure(context.Background(), assignment, errors.New("unit exploded"))

	var builderErr models.BuilderError
	require.True(t, f.receiveDecoded(t, bus.QueueBuilderErrors, &builderErr))
	assert.Equal(t, "ProcessingError", builderErr.ErrorType)
	assert.Equal(t, 8, builderErr.Severity)
	assert.Nil(t, builderErr.FunctionName)
	assert.Equal(t, "unit exploded", builderErr.ErrorMessage)
}

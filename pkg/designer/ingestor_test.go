package designer

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ensemble/maestro/pkg/bus"
	"github.com/ensemble/maestro/pkg/crossref"
	"github.com/ensemble/maestro/pkg/graphstore"
	"github.com/ensemble/maestro/pkg/llm"
	"github.com/ensemble/maestro/pkg/models"
	"github.com/ensemble/maestro/pkg/searchindex"
	"github.com/ensemble/maestro/pkg/services"
)

type fixedProvider struct {
	content string
	err     error
}

func (p *fixedProvider) Name() string { return "fixed" }

func (p *fixedProvider) Generate(_ context.Context, _, _ string, _ int, _ float64) (string, llm.Usage, error) {
	if p.err != nil {
		return "", llm.Usage{}, p.err
	}
	return p.content, llm.Usage{TokensIn: 10, TokensOut: 20}, nil
}

type ingestorFixture struct {
	ingestor *Ingestor
	bus      *bus.Coordinator
	mock     sqlmock.Sqlmock
}

func newIngestorFixture(t *testing.T, providerContent string) *ingestorFixture {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	coordinator := bus.NewCoordinator(rdb)
	require.NoError(t, coordinator.Initialize(context.Background()))

	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })
	mock.MatchExpectationsInOrder(false)
	db := sqlx.NewDb(mockDB, "sqlmock")

	registry := crossref.NewRegistry(db, graphstore.NewMemoryStore(), searchindex.NewMemoryIndex())
	gateway := llm.NewGateway(&fixedProvider{content: providerContent}, "gpt-4o-mini", "")

	return &ingestorFixture{
		ingestor: NewIngestor(gateway, registry, services.NewSpecService(db), services.NewPipelineService(db), coordinator),
		bus:      coordinator,
		mock:     mock,
	}
}

// expectPersistence queues unordered sqlmock expectations for one ingestion:
// a cross-reference insert+update pair per entity, plus the entity rows.
func (f *ingestorFixture) expectPersistence(specCount, unitCount int) {
	entities := 1 + specCount + unitCount
	for i := 0; i < entities; i++ {
		f.mock.ExpectExec("INSERT INTO cross_references").WillReturnResult(sqlmock.NewResult(1, 1))
		f.mock.ExpectExec("UPDATE cross_references").WillReturnResult(sqlmock.NewResult(0, 1))
	}
	f.mock.ExpectExec("INSERT INTO designer_outputs").WillReturnResult(sqlmock.NewResult(1, 1))
	for i := 0; i < specCount; i++ {
		f.mock.ExpectExec("INSERT INTO function_specifications").WillReturnResult(sqlmock.NewResult(1, 1))
	}
	if specCount > 0 {
		f.mock.ExpectExec(`UPDATE pipeline_executions SET total_functions = total_functions \+ \$1`).
			WithArgs(specCount, "pipe-1").
			WillReturnResult(sqlmock.NewResult(0, 1))
	}
	for i := 0; i < unitCount; i++ {
		f.mock.ExpectExec("INSERT INTO code_units").WillReturnResult(sqlmock.NewResult(1, 1))
	}
}

const designerResponse = "```json\n" + `[
  {"functionName": "CreateUser", "codeUnit": "UserService", "signature": "Task<User> CreateUser(CreateUserRequest request)",
   "description": "Creates a user", "complexityRating": 6, "estimatedMinutes": 45, "priority": "High"},
  {"functionName": "DeleteUser", "codeUnit": "UserService", "signature": "Task DeleteUser(Guid id)",
   "description": "Deletes a user", "complexityRating": 3, "estimatedMinutes": 20, "priority": "Medium"},
  {"functionName": "ListOrders", "codeUnit": "OrdersController", "signature": "Task<IEnumerable<Order>> ListOrders()",
   "description": "Lists orders", "complexityRating": 2, "estimatedMinutes": 15, "priority": "Low"}
]` + "\n```"

func TestIngestEndToEnd(t *testing.T) {
	f := newIngestorFixture(t, designerResponse)
	f.expectPersistence(3, 2)

	result, err := f.ingestor.Ingest(context.Background(), IngestRequest{
		ProjectID:      "proj-1",
		PipelineID:     "pipe-1",
		AgentType:      "SystemArchitect",
		Markdown:       "# Design\nUsers and orders.",
		TargetLanguage: "C#",
	})
	require.NoError(t, err)

	require.Len(t, result.Specs, 3)
	require.Len(t, result.Units, 2)
	assert.Equal(t, 2, result.AssignmentsSent)
	assert.Equal(t, 3, result.Output.FunctionSpecCount)

	svc := result.Units[0]
	assert.Equal(t, "UserService", svc.Name)
	assert.Equal(t, models.UnitTypeService, svc.UnitType)
	require.NotNil(t, svc.Namespace)
	assert.Equal(t, "Ensemble.Maestro.Generated", *svc.Namespace)
	assert.Equal(t, "/Services/UserService.cs", svc.FilePath)
	assert.Equal(t, 2, svc.FunctionCount)
	assert.Equal(t, 1, svc.SimpleFunctionCount)
	assert.Equal(t, 1, svc.ComplexFunctionCount)
	// ceil((6+3)/2) = 5
	assert.Equal(t, 5, svc.Complexity)
	assert.Equal(t, 65, svc.EstimatedMinutes)
	assert.Equal(t, models.PriorityHigh, svc.Priority)

	// The High-priority unit's assignment is delivered before the Low one.
	env, err := f.bus.Receive(context.Background(), bus.QueueCodeUnitAssignments, time.Second)
	require.NoError(t, err)
	require.NotNil(t, env)
	assert.Equal(t, 8, env.Priority)

	var first models.CodeUnitAssignment
	require.NoError(t, env.Decode(&first))
	assert.Equal(t, "UserService", first.Name)
	require.Len(t, first.Functions, 2)
	assert.Equal(t, "CreateUser", first.Functions[0].FunctionName)
	assert.Equal(t, "Task<User> CreateUser(CreateUserRequest request)", first.Functions[0].Signature)

	env, err = f.bus.Receive(context.Background(), bus.QueueCodeUnitAssignments, time.Second)
	require.NoError(t, err)
	require.NotNil(t, env)
	assert.Equal(t, 2, env.Priority)

	var second models.CodeUnitAssignment
	require.NoError(t, env.Decode(&second))
	assert.Equal(t, "OrdersController", second.Name)
}

func TestIngestAccumulatesFunctionTotalAcrossDesigners(t *testing.T) {
	f := newIngestorFixture(t, designerResponse)
	// Each designer's ingestion adds its own spec count to the pipeline
	// total; a second ingestion must not reset the first one's.
	f.expectPersistence(3, 2)
	f.expectPersistence(3, 2)

	for _, agentType := range []string{"SystemArchitect", "APIDesigner"} {
		result, err := f.ingestor.Ingest(context.Background(), IngestRequest{
			ProjectID:      "proj-1",
			PipelineID:     "pipe-1",
			AgentType:      agentType,
			Markdown:       "# Design\nUsers and orders.",
			TargetLanguage: "C#",
		})
		require.NoError(t, err)
		require.Len(t, result.Specs, 3)
	}
	assert.NoError(t, f.mock.ExpectationsWereMet())
}

func TestIngestMalformedOutputYieldsZeroSpecs(t *testing.T) {
	f := newIngestorFixture(t, "I could not produce structured output, sorry.")
	f.expectPersistence(0, 0)

	result, err := f.ingestor.Ingest(context.Background(), IngestRequest{
		ProjectID:  "proj-1",
		PipelineID: "pipe-1",
		AgentType:  "SystemArchitect",
		Markdown:   "# Design",
	})
	require.NoError(t, err)

	assert.Empty(t, result.Specs)
	assert.Empty(t, result.Units)
	assert.Zero(t, result.AssignmentsSent)
	assert.Equal(t, 0, result.Output.FunctionSpecCount)

	// Nothing was put on the assignment queue.
	env, err := f.bus.Receive(context.Background(), bus.QueueCodeUnitAssignments, 50*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, env)
}

func TestIngestLLMFailureDoesNotFailPipeline(t *testing.T) {
	f := newIngestorFixture(t, "")
	f.ingestor.gateway = llm.NewGateway(&fixedProvider{err: context.DeadlineExceeded}, "gpt-4o-mini", "")
	f.expectPersistence(0, 0)

	result, err := f.ingestor.Ingest(context.Background(), IngestRequest{
		ProjectID:  "proj-1",
		PipelineID: "pipe-1",
		AgentType:  "APIDesigner",
		Markdown:   "# Design",
	})
	require.NoError(t, err)
	assert.Empty(t, result.Specs)
}

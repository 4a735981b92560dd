package api

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ensemble/maestro/pkg/models"
	"github.com/ensemble/maestro/pkg/services"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeProjectStore struct {
	mu       sync.Mutex
	projects map[string]*models.Project
	statuses map[string]models.ProjectStatus
}

func newFakeProjectStore() *fakeProjectStore {
	return &fakeProjectStore{
		projects: make(map[string]*models.Project),
		statuses: make(map[string]models.ProjectStatus),
	}
}

func (f *fakeProjectStore) CreateProject(_ context.Context, req models.CreateProjectRequest) (*models.Project, error) {
	if req.Name == "" {
		return nil, services.NewValidationError("name", "is required")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	p := &models.Project{
		ID:           fmt.Sprintf("proj-%d", len(f.projects)+1),
		Name:         req.Name,
		Requirements: req.Requirements,
		Status:       models.ProjectStatusCreated,
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	}
	f.projects[p.ID] = p
	return p, nil
}

func (f *fakeProjectStore) GetProject(_ context.Context, id string) (*models.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.projects[id]
	if !ok {
		return nil, services.ErrNotFound
	}
	return p, nil
}

func (f *fakeProjectStore) ListProjects(_ context.Context, limit int) ([]models.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Project, 0, len(f.projects))
	for _, p := range f.projects {
		if len(out) >= limit {
			break
		}
		out = append(out, *p)
	}
	return out, nil
}

func (f *fakeProjectStore) UpdateProjectStatus(_ context.Context, id string, status models.ProjectStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.projects[id]; !ok {
		return services.ErrNotFound
	}
	f.statuses[id] = status
	return nil
}

func (f *fakeProjectStore) statusOf(id string) models.ProjectStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.statuses[id]
}

type fakePipelineStore struct {
	mu        sync.Mutex
	pipelines map[string]*models.PipelineExecution
	stages    map[string][]models.StageExecution
	agents    map[string][]models.AgentExecution
}

func newFakePipelineStore() *fakePipelineStore {
	return &fakePipelineStore{
		pipelines: make(map[string]*models.PipelineExecution),
		stages:    make(map[string][]models.StageExecution),
		agents:    make(map[string][]models.AgentExecution),
	}
}

func (f *fakePipelineStore) CreatePipeline(_ context.Context, projectID, configSnapshot string) (*models.PipelineExecution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p := &models.PipelineExecution{
		ID:             fmt.Sprintf("pipe-%d", len(f.pipelines)+1),
		ProjectID:      projectID,
		Stage:          models.StagePlanning,
		Status:         models.ExecutionStatusRunning,
		StartedAt:      time.Now().UTC(),
		ConfigSnapshot: configSnapshot,
	}
	f.pipelines[p.ID] = p
	return p, nil
}

func (f *fakePipelineStore) GetPipeline(_ context.Context, id string) (*models.PipelineExecution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.pipelines[id]
	if !ok {
		return nil, services.ErrNotFound
	}
	return p, nil
}

func (f *fakePipelineStore) ListStageExecutions(_ context.Context, pipelineID string) ([]models.StageExecution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stages[pipelineID], nil
}

func (f *fakePipelineStore) ListAgentExecutions(_ context.Context, pipelineID string) ([]models.AgentExecution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.agents[pipelineID], nil
}

type fakeStarter struct {
	mu      sync.Mutex
	started []string
}

func (f *fakeStarter) Start(_ *models.Project, pipeline *models.PipelineExecution) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, pipeline.ID)
}

func (f *fakeStarter) startedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.started...)
}

type apiFixture struct {
	projects  *fakeProjectStore
	pipelines *fakePipelineStore
	starter   *fakeStarter
	router    http.Handler
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	f := &apiFixture{
		projects:  newFakeProjectStore(),
		pipelines: newFakePipelineStore(),
		starter:   &fakeStarter{},
	}
	f.router = NewServer(nil, f.projects, f.pipelines, f.starter).Router()
	return f
}

func (f *apiFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *apiFixture) seedProject(t *testing.T, name string) *models.Project {
	t.Helper()
	p, err := f.projects.CreateProject(context.Background(), models.CreateProjectRequest{
		Name:         name,
		Requirements: "Build an invoicing backend",
	})
	require.NoError(t, err)
	return p
}

func TestHealthWithoutDatabase(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/health", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"healthy"`)
}

func TestCreateProject(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/projects", models.CreateProjectRequest{
		Name:         "Invoicing",
		Requirements: "Build an invoicing backend",
	})

	require.Equal(t, http.StatusCreated, rec.Code)
	var project models.Project
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &project))
	assert.NotEmpty(t, project.ID)
	assert.Equal(t, "Invoicing", project.Name)
	assert.Equal(t, models.ProjectStatusCreated, project.Status)
}

func TestCreateProjectRejectsMissingFields(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/projects", map[string]string{"name": "NoRequirements"})

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "error")
}

func TestGetProjectNotFound(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/projects/missing", nil)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListProjects(t *testing.T) {
	f := newAPIFixture(t)
	f.seedProject(t, "Alpha")
	f.seedProject(t, "Beta")

	rec := f.do(t, http.MethodGet, "/projects", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Projects []models.Project `json:"projects"`
		Count    int              `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Count)
	assert.Len(t, resp.Projects, 2)
}

func TestStartTestbench(t *testing.T) {
	f := newAPIFixture(t)
	project := f.seedProject(t, "Invoicing")

	rec := f.do(t, http.MethodPost, "/testbench/start", StartTestbenchRequest{
		ProjectID:      project.ID,
		ConfigSnapshot: "{}",
	})

	require.Equal(t, http.StatusAccepted, rec.Code)
	var pipeline models.PipelineExecution
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pipeline))
	assert.Equal(t, project.ID, pipeline.ProjectID)
	assert.Equal(t, models.StagePlanning, pipeline.Stage)

	assert.Equal(t, models.ProjectStatusInProgress, f.projects.statusOf(project.ID))
	assert.Equal(t, []string{pipeline.ID}, f.starter.startedIDs())
}

func TestStartTestbenchUnknownProject(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/testbench/start", StartTestbenchRequest{ProjectID: "missing"})

	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Empty(t, f.starter.startedIDs())
}

func TestStartTestbenchRejectsMissingProjectID(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/testbench/start", map[string]string{})

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetExecution(t *testing.T) {
	f := newAPIFixture(t)
	project := f.seedProject(t, "Invoicing")
	pipeline, err := f.pipelines.CreatePipeline(context.Background(), project.ID, "{}")
	require.NoError(t, err)
	f.pipelines.stages[pipeline.ID] = []models.StageExecution{
		{ID: "st-1", PipelineID: pipeline.ID, StageName: models.StagePlanning, Status: models.ExecutionStatusCompleted},
	}

	rec := f.do(t, http.MethodGet, "/testbench/executions/"+pipeline.ID, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Execution models.PipelineExecution `json:"execution"`
		Stages    []models.StageExecution  `json:"stages"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, pipeline.ID, resp.Execution.ID)
	require.Len(t, resp.Stages, 1)
	assert.Equal(t, models.StagePlanning, resp.Stages[0].StageName)
}

func TestGetExecutionNotFound(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/testbench/executions/missing", nil)

	require.Equal(t, http.StatusNotFound, rec.Code)
}

func seedExportFixture(t *testing.T, f *apiFixture) *models.PipelineExecution {
	t.Helper()
	project := f.seedProject(t, "Invoicing")
	pipeline, err := f.pipelines.CreatePipeline(context.Background(), project.ID, "{}")
	require.NoError(t, err)
	completed := time.Date(2026, 8, 24, 12, 5, 0, 0, time.UTC)
	errMsg := "model timed out"
	f.pipelines.agents[pipeline.ID] = []models.AgentExecution{
		{
			ID: "ag-1", PipelineID: pipeline.ID, AgentType: "ProjectPlanner",
			Status: models.ExecutionStatusCompleted, StartedAt: completed.Add(-time.Minute),
			CompletedAt: &completed, TokensIn: 120, TokensOut: 430, Cost: 0.0123,
		},
		{
			ID: "ag-2", PipelineID: pipeline.ID, AgentType: "SystemArchitect",
			Status: models.ExecutionStatusFailed, StartedAt: completed,
			TokensIn: 80, ErrorMessage: &errMsg,
		},
	}
	return pipeline
}

func TestExportExecutionJSON(t *testing.T) {
	f := newAPIFixture(t)
	pipeline := seedExportFixture(t, f)

	rec := f.do(t, http.MethodGet, "/exports/execution/"+pipeline.ID+"?format=json", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp struct {
		Execution       models.PipelineExecution `json:"execution"`
		AgentExecutions []models.AgentExecution  `json:"agentExecutions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, pipeline.ID, resp.Execution.ID)
	require.Len(t, resp.AgentExecutions, 2)
	assert.Equal(t, "ProjectPlanner", resp.AgentExecutions[0].AgentType)
}

func TestExportExecutionCSV(t *testing.T) {
	f := newAPIFixture(t)
	pipeline := seedExportFixture(t, f)

	rec := f.do(t, http.MethodGet, "/exports/execution/"+pipeline.ID+"?format=csv", nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/csv")
	assert.Contains(t, rec.Header().Get("Content-Disposition"), pipeline.ID)

	rows, err := csv.NewReader(strings.NewReader(rec.Body.String())).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "agent_type", rows[0][0])
	assert.Equal(t, "ProjectPlanner", rows[1][0])
	assert.Equal(t, "120", rows[1][4])
	assert.Equal(t, "SystemArchitect", rows[2][0])
	assert.Equal(t, "model timed out", rows[2][7])
}

func TestExportExecutionDefaultsToJSON(t *testing.T) {
	f := newAPIFixture(t)
	pipeline := seedExportFixture(t, f)

	rec := f.do(t, http.MethodGet, "/exports/execution/"+pipeline.ID, nil)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "application/json")
}

func TestExportExecutionRejectsXLSX(t *testing.T) {
	f := newAPIFixture(t)
	pipeline := seedExportFixture(t, f)

	rec := f.do(t, http.MethodGet, "/exports/execution/"+pipeline.ID+"?format=xlsx", nil)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "xlsx")
}

func TestExportExecutionUnknownFormat(t *testing.T) {
	f := newAPIFixture(t)
	pipeline := seedExportFixture(t, f)

	rec := f.do(t, http.MethodGet, "/exports/execution/"+pipeline.ID+"?format=pdf", nil)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

// Package api exposes the HTTP surface: project CRUD, testbench pipeline
// runs, execution export, health, and metrics.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ensemble/maestro/pkg/database"
	"github.com/ensemble/maestro/pkg/models"
)

// ProjectStore is the slice of the project service the handlers need.
type ProjectStore interface {
	CreateProject(ctx context.Context, req models.CreateProjectRequest) (*models.Project, error)
	GetProject(ctx context.Context, id string) (*models.Project, error)
	ListProjects(ctx context.Context, limit int) ([]models.Project, error)
	UpdateProjectStatus(ctx context.Context, id string, status models.ProjectStatus) error
}

// PipelineStore is the slice of the pipeline service the handlers need.
type PipelineStore interface {
	CreatePipeline(ctx context.Context, projectID, configSnapshot string) (*models.PipelineExecution, error)
	GetPipeline(ctx context.Context, id string) (*models.PipelineExecution, error)
	ListStageExecutions(ctx context.Context, pipelineID string) ([]models.StageExecution, error)
	ListAgentExecutions(ctx context.Context, pipelineID string) ([]models.AgentExecution, error)
}

// PipelineStarter launches the pipeline executor for a freshly created
// pipeline. Implementations must not block the caller.
type PipelineStarter interface {
	Start(project *models.Project, pipeline *models.PipelineExecution)
}

// Server is the API server.
type Server struct {
	db        *database.Client
	projects  ProjectStore
	pipelines PipelineStore
	starter   PipelineStarter
	log       *slog.Logger
}

// NewServer creates a new API server. db may be nil in handler tests; starter
// may be nil when the executor pool runs elsewhere.
func NewServer(db *database.Client, projects ProjectStore, pipelines PipelineStore, starter PipelineStarter) *Server {
	return &Server{
		db:        db,
		projects:  projects,
		pipelines: pipelines,
		starter:   starter,
		log:       slog.With("component", "api"),
	}
}

// Router builds the gin engine with all routes registered.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/health", s.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.POST("/projects", s.CreateProject)
	router.GET("/projects", s.ListProjects)
	router.GET("/projects/:id", s.GetProject)

	router.POST("/testbench/start", s.StartTestbench)
	router.GET("/testbench/executions/:id", s.GetExecution)

	router.GET("/exports/execution/:id", s.ExportExecution)

	return router
}

// Health reports API and database health.
func (s *Server) Health(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	if s.db == nil {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
		return
	}

	dbHealth, err := database.Health(ctx, s.db.DB.DB)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":   "unhealthy",
			"database": dbHealth,
			"error":    err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":   "healthy",
		"database": dbHealth,
	})
}

package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ensemble/maestro/pkg/models"
)

// StartTestbenchRequest is the body of POST /testbench/start.
type StartTestbenchRequest struct {
	ProjectID      string `json:"projectId" binding:"required"`
	ConfigSnapshot string `json:"configSnapshot,omitempty"`
}

// StartTestbench handles POST /testbench/start: it opens a pipeline execution
// for the project and hands it to the executor pool.
func (s *Server) StartTestbench(c *gin.Context) {
	var req StartTestbenchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	project, err := s.projects.GetProject(c.Request.Context(), req.ProjectID)
	if err != nil {
		abortWithServiceError(c, err)
		return
	}

	pipeline, err := s.pipelines.CreatePipeline(c.Request.Context(), project.ID, req.ConfigSnapshot)
	if err != nil {
		abortWithServiceError(c, err)
		return
	}

	if err := s.projects.UpdateProjectStatus(c.Request.Context(), project.ID, models.ProjectStatusInProgress); err != nil {
		abortWithServiceError(c, err)
		return
	}

	if s.starter != nil {
		s.starter.Start(project, pipeline)
	}

	s.log.Info("Testbench pipeline started", "project_id", project.ID, "pipeline_id", pipeline.ID)
	c.JSON(http.StatusAccepted, pipeline)
}

// GetExecution handles GET /testbench/executions/{id}: the pipeline state
// plus its stage records.
func (s *Server) GetExecution(c *gin.Context) {
	id := c.Param("id")

	pipeline, err := s.pipelines.GetPipeline(c.Request.Context(), id)
	if err != nil {
		abortWithServiceError(c, err)
		return
	}

	stages, err := s.pipelines.ListStageExecutions(c.Request.Context(), id)
	if err != nil {
		abortWithServiceError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"execution": pipeline,
		"stages":    stages,
	})
}

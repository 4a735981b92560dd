package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/ensemble/maestro/pkg/models"
)

// CreateProject handles POST /projects.
func (s *Server) CreateProject(c *gin.Context) {
	var req models.CreateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	project, err := s.projects.CreateProject(c.Request.Context(), req)
	if err != nil {
		abortWithServiceError(c, err)
		return
	}

	s.log.Info("Project created", "project_id", project.ID, "name", project.Name)
	c.JSON(http.StatusCreated, project)
}

// ListProjects handles GET /projects.
func (s *Server) ListProjects(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	projects, err := s.projects.ListProjects(c.Request.Context(), limit)
	if err != nil {
		abortWithServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"projects": projects, "count": len(projects)})
}

// GetProject handles GET /projects/{id}.
func (s *Server) GetProject(c *gin.Context) {
	project, err := s.projects.GetProject(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithServiceError(c, err)
		return
	}
	c.JSON(http.StatusOK, project)
}

package api

import (
	"encoding/csv"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// ExportExecution handles GET /exports/execution/{id}?format=json|csv.
// The execution export is the pipeline record plus every agent invocation.
// xlsx is recognized but not supported and returns 400.
func (s *Server) ExportExecution(c *gin.Context) {
	id := c.Param("id")
	format := c.DefaultQuery("format", "json")

	pipeline, err := s.pipelines.GetPipeline(c.Request.Context(), id)
	if err != nil {
		abortWithServiceError(c, err)
		return
	}
	agents, err := s.pipelines.ListAgentExecutions(c.Request.Context(), id)
	if err != nil {
		abortWithServiceError(c, err)
		return
	}

	switch format {
	case "json":
		c.JSON(http.StatusOK, gin.H{
			"execution":       pipeline,
			"agentExecutions": agents,
		})
	case "csv":
		c.Header("Content-Type", "text/csv")
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=execution-%s.csv", id))
		w := csv.NewWriter(c.Writer)
		_ = w.Write([]string{"agent_type", "status", "started_at", "completed_at", "tokens_in", "tokens_out", "cost", "error"})
		for _, a := range agents {
			completed := ""
			if a.CompletedAt != nil {
				completed = a.CompletedAt.Format("2006-01-02T15:04:05Z07:00")
			}
			errMsg := ""
			if a.ErrorMessage != nil {
				errMsg = *a.ErrorMessage
			}
			_ = w.Write([]string{
				a.AgentType,
				string(a.Status),
				a.StartedAt.Format("2006-01-02T15:04:05Z07:00"),
				completed,
				strconv.Itoa(a.TokensIn),
				strconv.Itoa(a.TokensOut),
				strconv.FormatFloat(a.Cost, 'f', 6, 64),
				errMsg,
			})
		}
		w.Flush()
	case "xlsx":
		c.JSON(http.StatusBadRequest, gin.H{"error": "xlsx export is not supported; use json or csv"})
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unknown export format %q", format)})
	}
}

package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/yungbote/nort-backend/internal/http/response"
	"github.com/yungbote/nort-backend/internal/services"
)

type JobHandler struct {
	jobs services.JobService
}

func NewJobHandler(jobs services.JobService) *JobHandler {
	return &JobHandler{jobs: jobs}
}

// GET /api/v1/jobs/:id
func (h *JobHandler) GetJob(c *gin.Context) {
	jobID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	job, err := h.jobs.GetByIDForRequestUser(c.Request.Context(), jobID)
	if err != nil {
		response.RespondErr(c, "job_not_found", err)
		return
	}
	response.RespondOK(c, gin.H{"job": job})
}

// GET /api/v1/chat/:id/jobs
func (h *JobHandler) ListConversationJobs(c *gin.Context) {
	convID, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	jobs, err := h.jobs.ListForConversation(c.Request.Context(), convID, 50)
	if err != nil {
		response.RespondErr(c, "list_jobs_failed", err)
		return
	}
	response.RespondOK(c, gin.H{"jobs": jobs})
}

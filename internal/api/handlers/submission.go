package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/codeclash/codeclash-backend/internal/api/middleware"
	"github.com/codeclash/codeclash-backend/internal/models"
	"github.com/codeclash/codeclash-backend/internal/service"
)

// Grader is the grading surface used by the HTTP handlers.
type Grader interface {
	RunSample(ctx context.Context, req models.RunRequest) (*models.ExecutionResult, error)
	Submit(ctx context.Context, req models.SubmitRequest) (*models.SubmissionTicket, error)
	GetSubmission(ctx context.Context, id, userID string) (*models.Submission, error)
}

type SubmissionHandler struct {
	grader Grader
}

func NewSubmissionHandler(grader Grader) *SubmissionHandler {
	return &SubmissionHandler{grader: grader}
}

// Submit godoc
// @Summary Submit a solution
// @Description Queue a solution for grading against every test case of the question
// @Tags submissions
// @Accept json
// @Produce json
// @Success 202 {object} models.SubmissionTicket
// @Router /api/v1/submissions/submit [post]
func (h *SubmissionHandler) Submit(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		respondError(c, service.ErrUnauthorized)
		return
	}

	var req models.SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	req.UserID = userID

	ticket, err := h.grader.Submit(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, ticket)
}

// GetSubmission returns one of the caller's submissions.
func (h *SubmissionHandler) GetSubmission(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		respondError(c, service.ErrUnauthorized)
		return
	}

	submission, err := h.grader.GetSubmission(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, submission)
}

// Run godoc
// @Summary Run code against a custom input
// @Tags matches
// @Accept json
// @Produce json
// @Success 200 {object} models.ExecutionResult
// @Router /api/v1/matches/{matchId}/run [post]
func (h *SubmissionHandler) Run(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		respondError(c, service.ErrUnauthorized)
		return
	}

	var req models.RunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	req.MatchID = c.Param("id")
	req.UserID = userID

	result, err := h.grader.RunSample(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

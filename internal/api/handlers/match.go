package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/codeclash/codeclash-backend/internal/api/middleware"
	"github.com/codeclash/codeclash-backend/internal/models"
	"github.com/codeclash/codeclash-backend/internal/service"
)

type MatchReader interface {
	GetMatch(ctx context.Context, matchID, userID string) (*models.Match, error)
}

type MatchHandler struct {
	matches MatchReader
}

func NewMatchHandler(matches MatchReader) *MatchHandler {
	return &MatchHandler{matches: matches}
}

// GetMatch returns a match the caller takes part in.
func (h *MatchHandler) GetMatch(c *gin.Context) {
	userID, ok := middleware.UserID(c)
	if !ok {
		respondError(c, service.ErrUnauthorized)
		return
	}

	match, err := h.matches.GetMatch(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, match)
}

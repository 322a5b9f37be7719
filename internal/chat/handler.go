package chat

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"optimizer-backend/internal/llm"
	"optimizer-backend/internal/shared/server/respond"
)

// Handler wires HTTP handlers to the chat service.
type Handler struct {
	Svc *Service
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{Svc: svc}
}

// RegisterRoutes attaches chat routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/chat", h.chat)
	rg.POST("/chains", h.chain)
}

type chatRequest struct {
	Messages []llm.Message `json:"messages"`
	ThreadID string        `json:"threadId"`
}

func (h *Handler) chat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "invalid request body", nil)
		return
	}

	result, err := h.Svc.Complete(c.Request.Context(), req.Messages, req.ThreadID)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidInput):
			respond.Error(c, http.StatusBadRequest, "validation_error", "messages are required", nil)
		default:
			respond.Error(c, http.StatusBadGateway, "llm_error", "chat completion failed", nil)
		}
		return
	}

	respond.JSON(c, http.StatusOK, gin.H{
		"content":  result.Content,
		"threadId": result.ThreadID,
	})
}

type chainRequest struct {
	Question string `json:"question"`
}

func (h *Handler) chain(c *gin.Context) {
	var req chainRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "invalid request body", nil)
		return
	}

	result, err := h.Svc.Chain(c.Request.Context(), req.Question)
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidInput):
			respond.Error(c, http.StatusBadRequest, "validation_error", "question is required", nil)
		default:
			respond.Error(c, http.StatusBadGateway, "llm_error", "prompt chain failed", nil)
		}
		return
	}

	respond.JSON(c, http.StatusOK, gin.H{
		"topic":       result.Topic,
		"searchQuery": result.SearchQuery,
	})
}

package optimizations

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"optimizer-backend/internal/documents"
	"optimizer-backend/internal/shared/server/middleware"
	"optimizer-backend/internal/shared/server/respond"
)

const maxJobLength = 8000

// Handler wires HTTP handlers to the optimizations service.
type Handler struct {
	Svc *Service
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{Svc: svc}
}

// RegisterRoutes attaches optimization routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/optimizations", h.startOptimization)
	rg.GET("/optimizations", h.listOptimizations)
	rg.GET("/optimizations/:id", h.getOptimization)
	rg.GET("/optimizations/:id/history", h.getHistory)
}

type startOptimizationRequest struct {
	Job           string `json:"job"`
	DocumentID    string `json:"documentId"`
	BulletCount   int    `json:"bulletCount"`
	MaxIterations int    `json:"maxIterations"`
}

func (h *Handler) startOptimization(c *gin.Context) {
	userID := middleware.UserIDFromContext(c)

	var req startOptimizationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respond.Error(c, http.StatusBadRequest, "validation_error", "invalid request body", nil)
		return
	}

	req.Job = strings.TrimSpace(req.Job)
	if req.Job == "" {
		respond.Error(c, http.StatusBadRequest, "validation_error", "job is required", nil)
		return
	}
	if len(req.Job) > maxJobLength {
		respond.Error(c, http.StatusBadRequest, "validation_error", "job is too long", nil)
		return
	}
	if req.BulletCount < 0 || req.MaxIterations < 0 {
		respond.Error(c, http.StatusBadRequest, "validation_error", "bulletCount and maxIterations must be positive", nil)
		return
	}

	ctx := WithRequestID(c.Request.Context(), middleware.RequestIDFromContext(c))
	opt, err := h.Svc.Create(ctx, CreateInput{
		UserID:        userID,
		Job:           req.Job,
		DocumentID:    strings.TrimSpace(req.DocumentID),
		BulletCount:   req.BulletCount,
		MaxIterations: req.MaxIterations,
	})
	if err != nil {
		switch {
		case errors.Is(err, documents.ErrNotFound):
			respond.Error(c, http.StatusNotFound, "not_found", "document not found", nil)
		case errors.Is(err, ErrValidation):
			respond.Error(c, http.StatusBadRequest, "validation_error", err.Error(), nil)
		default:
			respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to start optimization", nil)
		}
		return
	}

	c.Set("optimizationId", opt.ID)

	respond.JSON(c, http.StatusAccepted, gin.H{
		"optimizationId": opt.ID,
		"status":         opt.Status,
	})
}

func (h *Handler) getOptimization(c *gin.Context) {
	optimizationID := c.Param("id")
	if optimizationID == "" {
		respond.Error(c, http.StatusBadRequest, "validation_error", "optimization id is required", nil)
		return
	}

	opt, err := h.Svc.Get(c.Request.Context(), optimizationID)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			respond.Error(c, http.StatusNotFound, "not_found", "optimization not found", nil)
		default:
			respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to fetch optimization", nil)
		}
		return
	}

	resp := gin.H{
		"optimizationId": opt.ID,
		"job":            opt.Job,
		"status":         opt.Status,
		"bulletCount":    opt.BulletCount,
		"maxIterations":  opt.MaxIterations,
		"createdAt":      opt.CreatedAt,
	}
	if opt.DocumentID != "" {
		resp["documentId"] = opt.DocumentID
	}
	switch opt.Status {
	case StatusCompleted:
		resp["accepted"] = opt.Accepted
		resp["forced"] = opt.Forced
		resp["iterations"] = opt.Iterations
		resp["bullets"] = opt.Bullets
		resp["grades"] = opt.Grades
		resp["feedback"] = opt.Feedback
	case StatusFailed:
		if opt.ErrorCode != nil {
			resp["errorCode"] = *opt.ErrorCode
		}
		if opt.ErrorMessage != nil {
			resp["errorMessage"] = *opt.ErrorMessage
		}
	}

	respond.JSON(c, http.StatusOK, resp)
}

func (h *Handler) getHistory(c *gin.Context) {
	optimizationID := c.Param("id")
	if optimizationID == "" {
		respond.Error(c, http.StatusBadRequest, "validation_error", "optimization id is required", nil)
		return
	}

	history, err := h.Svc.History(c.Request.Context(), optimizationID)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			respond.Error(c, http.StatusNotFound, "not_found", "optimization not found", nil)
		default:
			respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to fetch history", nil)
		}
		return
	}

	resp := make([]gin.H, 0, len(history))
	for _, rec := range history {
		resp = append(resp, gin.H{
			"iteration": rec.Iteration,
			"bullets":   rec.Bullets,
			"grades":    rec.Grades,
			"feedback":  rec.Feedback,
		})
	}

	respond.JSON(c, http.StatusOK, gin.H{
		"optimizationId": optimizationID,
		"history":        resp,
	})
}

func (h *Handler) listOptimizations(c *gin.Context) {
	if isGuest, ok := c.Get("isGuest"); ok {
		if guest, ok2 := isGuest.(bool); ok2 && guest {
			respond.Error(c, http.StatusUnauthorized, "login_required", "Login required to view history", nil)
			return
		}
	}

	userID := middleware.UserIDFromContext(c)

	limit := 20
	offset := 0

	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			limit = parsed
		}
	}
	if limit < 0 {
		limit = 0
	}

	if v := c.Query("offset"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			offset = parsed
		}
	}
	if offset < 0 {
		offset = 0
	}

	opts, err := h.Svc.List(c.Request.Context(), userID, limit, offset)
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, "internal_error", "failed to list optimizations", nil)
		return
	}

	resp := make([]gin.H, 0, len(opts))
	for _, opt := range opts {
		item := gin.H{
			"optimizationId": opt.ID,
			"status":         opt.Status,
			"createdAt":      opt.CreatedAt,
		}
		if opt.Status == StatusCompleted {
			item["accepted"] = opt.Accepted
			item["iterations"] = opt.Iterations
		}
		resp = append(resp, item)
	}

	respond.JSON(c, http.StatusOK, resp)
}

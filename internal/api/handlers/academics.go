package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/LoveACE-Team/LoveACE/internal/api/middleware"
	"github.com/LoveACE-Team/LoveACE/internal/jwc"
	"github.com/LoveACE-Team/LoveACE/internal/portal"
)

type AcademicsHandler struct {
	sessions *portal.Manager
	baseURL  string
}

func NewAcademicsHandler(sessions *portal.Manager, baseURL string) *AcademicsHandler {
	return &AcademicsHandler{sessions: sessions, baseURL: baseURL}
}

func (h *AcademicsHandler) client(principal string) *jwc.Client {
	return jwc.NewClient(h.sessions, h.baseURL, principal)
}

// GetInfo returns credit and GPA totals.
// GET /v1/academics/info
func (h *AcademicsHandler) GetInfo(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	info, err := h.client(userID).AcademicInfo(c.Request.Context())
	if err != nil {
		respondUpstreamError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

// GetPlan returns the training-plan completion tree.
// GET /v1/academics/plan
func (h *AcademicsHandler) GetPlan(c *gin.Context) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	plan, err := h.client(userID).PlanCompletion(c.Request.Context())
	if err != nil {
		respondUpstreamError(c, err)
		return
	}
	c.JSON(http.StatusOK, plan)
}

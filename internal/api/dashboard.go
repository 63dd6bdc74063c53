package api

import (
	"net/http"
	"strconv"
	"time"

	"lead-nurture/internal/models"
	"lead-nurture/internal/store"

	"github.com/gin-gonic/gin"
)

type DashboardHandler struct {
	Leads      *store.LeadStore
	FollowUps  *store.FollowUps
	Activities *store.ActivityLog
	Now        func() time.Time
}

func NewDashboardHandler(leads *store.LeadStore, followUps *store.FollowUps, activities *store.ActivityLog) *DashboardHandler {
	return &DashboardHandler{
		Leads:      leads,
		FollowUps:  followUps,
		Activities: activities,
		Now:        func() time.Time { return time.Now().UTC() },
	}
}

// GetFollowUps lists the clinic's leads that answered but have gone quiet
func (h *DashboardHandler) GetFollowUps(c *gin.Context) {
	clinicID, ok := paramID(c, "clinicId")
	if !ok {
		return
	}

	leads, err := h.FollowUps.Find(c.Request.Context(), clinicID, h.Now())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	// Return empty array instead of null
	if leads == nil {
		leads = []models.Lead{}
	}

	c.JSON(http.StatusOK, leads)
}

func (h *DashboardHandler) GetActivities(c *gin.Context) {
	clinicID, ok := paramID(c, "clinicId")
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	activities, err := h.Activities.ListForClinic(c.Request.Context(), clinicID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, activities)
}

func (h *DashboardHandler) GetMessages(c *gin.Context) {
	leadID, ok := paramID(c, "id")
	if !ok {
		return
	}

	messages, err := h.Leads.Messages(c.Request.Context(), leadID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, messages)
}

type SendRequest struct {
	Content string `json:"content" binding:"required"`
}

// SendMessage logs a message staff sent to the lead outside the system.
// Delivery itself is not handled here.
func (h *DashboardHandler) SendMessage(c *gin.Context) {
	leadID, ok := paramID(c, "id")
	if !ok {
		return
	}

	var req SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	lead, err := h.Leads.Get(c.Request.Context(), leadID)
	if err != nil {
		respondError(c, err)
		return
	}

	msg, err := h.Leads.RecordOutbound(c.Request.Context(), lead, req.Content, h.Now())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to record message: " + err.Error()})
		return
	}

	c.JSON(http.StatusCreated, msg)
}

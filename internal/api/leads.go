package api

import (
	"net/http"
	"time"

	"lead-nurture/internal/models"
	"lead-nurture/internal/store"

	"github.com/gin-gonic/gin"
)

type LeadHandler struct {
	Leads *store.LeadStore
}

func NewLeadHandler(leads *store.LeadStore) *LeadHandler {
	return &LeadHandler{Leads: leads}
}

func (h *LeadHandler) GetLeads(c *gin.Context) {
	clinicID, ok := paramID(c, "clinicId")
	if !ok {
		return
	}
	status := c.Query("status")
	if status != "" && !models.IsValidLeadStatus(status) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status " + status})
		return
	}

	leads, err := h.Leads.List(c.Request.Context(), clinicID, status)
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

type CreateLeadRequest struct {
	ClinicID        uint       `json:"clinic_id" binding:"required"`
	Name            string     `json:"name" binding:"required"`
	Phone           string     `json:"phone"`
	Email           string     `json:"email"`
	Status          string     `json:"status"`
	LastContactedAt *time.Time `json:"last_contacted_at"`
}

func (h *LeadHandler) CreateLead(c *gin.Context) {
	var req CreateLeadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Status == "" {
		req.Status = models.LeadStatusNew
	}
	if !models.IsValidLeadStatus(req.Status) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status " + req.Status})
		return
	}

	lead := models.Lead{
		ClinicID: req.ClinicID,
		Name:     req.Name,
		Phone:    req.Phone,
		Email:    req.Email,
		Status:   req.Status,
	}
	if req.LastContactedAt != nil {
		at := req.LastContactedAt.UTC()
		lead.LastContactedAt = &at
	}

	if err := h.Leads.Create(c.Request.Context(), &lead); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create lead"})
		return
	}

	c.JSON(http.StatusCreated, lead)
}

type UpdateLeadRequest struct {
	Name   *string `json:"name"`
	Phone  *string `json:"phone"`
	Email  *string `json:"email"`
	Status *string `json:"status"`
}

func (h *LeadHandler) UpdateLead(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	var req UpdateLeadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	fields := map[string]interface{}{}
	if req.Name != nil {
		fields["name"] = *req.Name
	}
	if req.Phone != nil {
		fields["phone"] = *req.Phone
	}
	if req.Email != nil {
		fields["email"] = *req.Email
	}
	if req.Status != nil {
		if !models.IsValidLeadStatus(*req.Status) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown status " + *req.Status})
			return
		}
		fields["status"] = *req.Status
	}

	if err := h.Leads.Update(c.Request.Context(), id, fields); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "Lead updated"})
}

func (h *LeadHandler) DeleteLead(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	if err := h.Leads.Delete(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "Lead deleted"})
}

package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"lead-nurture/internal/automation"
	"lead-nurture/internal/models"
	"lead-nurture/internal/store"

	"github.com/gin-gonic/gin"
	"gorm.io/datatypes"
)

type AutomationHandler struct {
	Rules     *store.RuleStore
	Ledger    *store.Ledger
	Replies   *automation.Replies
	Scheduler *automation.Scheduler
	Now       func() time.Time
}

func NewAutomationHandler(rules *store.RuleStore, ledger *store.Ledger, replies *automation.Replies, scheduler *automation.Scheduler) *AutomationHandler {
	return &AutomationHandler{
		Rules:     rules,
		Ledger:    ledger,
		Replies:   replies,
		Scheduler: scheduler,
		Now:       func() time.Time { return time.Now().UTC() },
	}
}

// GetRules returns automation rules, optionally for one clinic
func (h *AutomationHandler) GetRules(c *gin.Context) {
	var clinicID uint
	if raw := c.Query("clinic_id"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid clinic_id"})
			return
		}
		clinicID = uint(id)
	}

	rules, err := h.Rules.List(c.Request.Context(), clinicID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, rules)
}

func (h *AutomationHandler) GetRule(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	rule, err := h.Rules.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, rule)
}

// CreateRule creates a new automation rule
func (h *AutomationHandler) CreateRule(c *gin.Context) {
	var req struct {
		ClinicID              uint     `json:"clinic_id" binding:"required"`
		Name                  string   `json:"name" binding:"required"`
		TriggerDays           []int    `json:"trigger_days" binding:"required"`
		Message               string   `json:"message" binding:"required"`
		PersonalizationFields []string `json:"personalization_fields"`
		TargetStatus          string   `json:"target_status" binding:"required"`
		IsActive              *bool    `json:"is_active"`
		NotifyOnReply         bool     `json:"notify_on_reply"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := validateTriggerDays(req.TriggerDays); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := validateTargetStatus(req.TargetStatus); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	rule := models.AutomationRule{
		ClinicID:              req.ClinicID,
		Name:                  req.Name,
		TriggerDays:           req.TriggerDays,
		Message:               req.Message,
		PersonalizationFields: req.PersonalizationFields,
		TargetStatus:          req.TargetStatus,
		IsActive:              req.IsActive == nil || *req.IsActive,
		NotifyOnReply:         req.NotifyOnReply,
	}

	if err := h.Rules.Create(c.Request.Context(), &rule); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"id": rule.ID, "message": "Rule created successfully"})
}

// UpdateRule updates an existing automation rule. Statistics are not
// writable.
func (h *AutomationHandler) UpdateRule(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	var req struct {
		Name                  *string  `json:"name"`
		TriggerDays           []int    `json:"trigger_days"`
		Message               *string  `json:"message"`
		PersonalizationFields []string `json:"personalization_fields"`
		TargetStatus          *string  `json:"target_status"`
		NotifyOnReply         *bool    `json:"notify_on_reply"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	updateData := map[string]interface{}{}
	if req.Name != nil {
		updateData["name"] = *req.Name
	}
	if req.TriggerDays != nil {
		if err := validateTriggerDays(req.TriggerDays); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		updateData["trigger_days"] = datatypes.JSONSlice[int](req.TriggerDays)
	}
	if req.Message != nil {
		updateData["message"] = *req.Message
	}
	if req.PersonalizationFields != nil {
		updateData["personalization_fields"] = datatypes.JSONSlice[string](req.PersonalizationFields)
	}
	if req.TargetStatus != nil {
		if err := validateTargetStatus(*req.TargetStatus); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		updateData["target_status"] = *req.TargetStatus
	}
	if req.NotifyOnReply != nil {
		updateData["notify_on_reply"] = *req.NotifyOnReply
	}

	if err := h.Rules.Update(c.Request.Context(), id, updateData); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Rule updated successfully"})
}

// DeleteRule deletes an automation rule and its executions
func (h *AutomationHandler) DeleteRule(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	if err := h.Rules.Delete(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Rule deleted successfully"})
}

// ToggleRule enables or disables a rule
func (h *AutomationHandler) ToggleRule(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	var req struct {
		Enabled bool `json:"enabled"`
	}

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.Rules.SetActive(c.Request.Context(), id, req.Enabled); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Rule toggled successfully", "is_active": req.Enabled})
}

// GetExecutions returns a rule's executions, newest first
func (h *AutomationHandler) GetExecutions(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))

	if _, err := h.Rules.Get(c.Request.Context(), id); err != nil {
		respondError(c, err)
		return
	}

	executions, err := h.Ledger.ListForRule(c.Request.Context(), id, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, executions)
}

// MarkReplied records that the lead answered an execution
func (h *AutomationHandler) MarkReplied(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}

	exec, err := h.Replies.MarkReplied(c.Request.Context(), id, h.Now())
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, exec)
}

// RunNow runs one automation cycle immediately
func (h *AutomationHandler) RunNow(c *gin.Context) {
	res, err := h.Scheduler.RunCycleNow(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, res)
}

// GetAnalytics returns rule and execution totals, optionally for one clinic
func (h *AutomationHandler) GetAnalytics(c *gin.Context) {
	var clinicID uint
	if raw := c.Query("clinic_id"); raw != "" {
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid clinic_id"})
			return
		}
		clinicID = uint(id)
	}

	rules, err := h.Rules.List(c.Request.Context(), clinicID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	var stats struct {
		TotalRules      int64    `json:"total_rules"`
		ActiveRules     int64    `json:"active_rules"`
		TotalExecutions int64    `json:"total_executions"`
		Replies         int64    `json:"replies"`
		SuccessRate     *float64 `json:"success_rate"`
	}
	for _, r := range rules {
		stats.TotalRules++
		if r.IsActive {
			stats.ActiveRules++
		}
		stats.TotalExecutions += r.TotalExecutions
		stats.Replies += r.ReplyCount
	}
	stats.SuccessRate = automation.SuccessRate(stats.TotalExecutions, stats.Replies)

	c.JSON(http.StatusOK, stats)
}

var errTriggerDays = errors.New("trigger_days must be a non-empty list of positive integers")

func validateTriggerDays(days []int) error {
	if len(days) == 0 {
		return errTriggerDays
	}
	for _, d := range days {
		if d <= 0 {
			return errTriggerDays
		}
	}
	return nil
}

// validateTargetStatus accepts any lead status a lead can still be nurtured
// out of.
func validateTargetStatus(status string) error {
	if !models.IsValidLeadStatus(status) {
		return fmt.Errorf("unknown target_status %s", status)
	}
	if models.IsTerminalStatus(status) {
		return fmt.Errorf("target_status %s is terminal", status)
	}
	return nil
}

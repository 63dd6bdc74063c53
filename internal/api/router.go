package api

import (
	"time"

	"lead-nurture/internal/webhook"
	"lead-nurture/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Handlers groups everything the router serves.
type Handlers struct {
	Automation *AutomationHandler
	Dashboard  *DashboardHandler
	Leads      *LeadHandler
	Webhook    *webhook.Handler
	Events     *ws.Hub
}

func NewRouter(h Handlers) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(), cors())

	// Webhook Routes
	r.GET("/webhook", h.Webhook.VerifyWebhook)
	r.POST("/webhook", h.Webhook.HandleMessage)

	// WebSocket Route
	if h.Events != nil {
		r.GET("/ws", h.Events.ServeWs)
	}

	apiGroup := r.Group("/api")
	{
		// Automation Routes
		apiGroup.GET("/automation/rules", h.Automation.GetRules)
		apiGroup.POST("/automation/rules", h.Automation.CreateRule)
		apiGroup.GET("/automation/rules/:id", h.Automation.GetRule)
		apiGroup.PUT("/automation/rules/:id", h.Automation.UpdateRule)
		apiGroup.DELETE("/automation/rules/:id", h.Automation.DeleteRule)
		apiGroup.POST("/automation/rules/:id/toggle", h.Automation.ToggleRule)
		apiGroup.GET("/automation/rules/:id/executions", h.Automation.GetExecutions)
		apiGroup.GET("/automation/analytics", h.Automation.GetAnalytics)
		apiGroup.POST("/automations/run", h.Automation.RunNow)
		apiGroup.POST("/executions/:id/replied", h.Automation.MarkReplied)

		// Clinic Routes
		apiGroup.GET("/clinics/:clinicId/follow-ups", h.Dashboard.GetFollowUps)
		apiGroup.GET("/clinics/:clinicId/activities", h.Dashboard.GetActivities)
		apiGroup.GET("/clinics/:clinicId/leads", h.Leads.GetLeads)

		// Lead Routes
		apiGroup.POST("/leads", h.Leads.CreateLead)
		apiGroup.PUT("/leads/:id", h.Leads.UpdateLead)
		apiGroup.DELETE("/leads/:id", h.Leads.DeleteLead)
		apiGroup.GET("/leads/:id/messages", h.Dashboard.GetMessages)
		apiGroup.POST("/leads/:id/messages", h.Dashboard.SendMessage)
	}

	return r
}

func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Msg("HTTP request")
	}
}

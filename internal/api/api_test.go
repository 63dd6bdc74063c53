package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"lead-nurture/internal/api"
	"lead-nurture/internal/automation"
	"lead-nurture/internal/database"
	"lead-nurture/internal/models"
	"lead-nurture/internal/store"
	"lead-nurture/internal/testutil"
	"lead-nurture/internal/webhook"
	"lead-nurture/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type server struct {
	db     *gorm.DB
	router *gin.Engine
	hub    *ws.Hub
}

func newServer(t *testing.T) *server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.OpenDB(t)
	x, err := database.SQLX(db)
	require.NoError(t, err)

	rules := store.NewRuleStore(db)
	leads := store.NewLeadStore(db)
	ledger := store.NewLedger(db)
	activities := store.NewActivityLog(db)
	directory := store.NewDirectory(db, time.Minute)
	followUps := store.NewFollowUps(x)

	hub := ws.NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	engine := automation.NewEngine(automation.Deps{
		Rules:      rules,
		Leads:      leads,
		Ledger:     ledger,
		Activities: activities,
		Directory:  directory,
		FollowUps:  followUps,
		Publisher:  hub,
	})
	now := func() time.Time { return testutil.Now }
	scheduler := automation.NewScheduler(engine, automation.SchedulerOptions{Now: now})
	replies := automation.NewReplies(ledger, rules, activities, directory, nil)

	automationHandler := api.NewAutomationHandler(rules, ledger, replies, scheduler)
	automationHandler.Now = now
	dashboardHandler := api.NewDashboardHandler(leads, followUps, activities)
	dashboardHandler.Now = now
	webhookHandler := webhook.NewHandler("secret", leads, ledger, replies)
	webhookHandler.Now = now

	router := api.NewRouter(api.Handlers{
		Automation: automationHandler,
		Dashboard:  dashboardHandler,
		Leads:      api.NewLeadHandler(leads),
		Webhook:    webhookHandler,
		Events:     hub,
	})
	return &server{db: db, router: router, hub: hub}
}

func (s *server) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), v))
}

func TestCreateRule_Validation(t *testing.T) {
	s := newServer(t)
	clinic := testutil.CreateClinic(t, s.db, "North")

	base := func() map[string]interface{} {
		return map[string]interface{}{
			"clinic_id":     clinic.ID,
			"name":          "Hot leads",
			"trigger_days":  []int{3, 7},
			"message":       "Hi {name}",
			"target_status": models.LeadStatusHot,
		}
	}

	tests := []struct {
		name   string
		mutate func(map[string]interface{})
	}{
		{"empty trigger days", func(b map[string]interface{}) { b["trigger_days"] = []int{} }},
		{"zero trigger day", func(b map[string]interface{}) { b["trigger_days"] = []int{3, 0} }},
		{"negative trigger day", func(b map[string]interface{}) { b["trigger_days"] = []int{-1} }},
		{"unknown status", func(b map[string]interface{}) { b["target_status"] = "LUKEWARM" }},
		{"closed status", func(b map[string]interface{}) { b["target_status"] = models.LeadStatusClosed }},
		{"lost status", func(b map[string]interface{}) { b["target_status"] = models.LeadStatusLost }},
		{"missing message", func(b map[string]interface{}) { delete(b, "message") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := base()
			tt.mutate(body)
			w := s.do(t, http.MethodPost, "/api/automation/rules", body)
			assert.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
		})
	}

	var n int64
	require.NoError(t, s.db.Model(&models.AutomationRule{}).Count(&n).Error)
	assert.Zero(t, n)
}

func TestRuleLifecycle(t *testing.T) {
	s := newServer(t)
	clinic := testutil.CreateClinic(t, s.db, "North")

	w := s.do(t, http.MethodPost, "/api/automation/rules", map[string]interface{}{
		"clinic_id":              clinic.ID,
		"name":                   "Hot leads",
		"trigger_days":           []int{3, 7, 14},
		"message":                "Hi {name}",
		"personalization_fields": []string{"name"},
		"target_status":          models.LeadStatusHot,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created struct {
		ID uint `json:"id"`
	}
	decode(t, w, &created)
	path := "/api/automation/rules/" + strconv.Itoa(int(created.ID))

	w = s.do(t, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var rule models.AutomationRule
	decode(t, w, &rule)
	assert.True(t, rule.IsActive, "rules are active unless told otherwise")
	assert.Equal(t, []int{3, 7, 14}, []int(rule.TriggerDays))
	assert.Nil(t, rule.SuccessRate)

	w = s.do(t, http.MethodPut, path, map[string]interface{}{"trigger_days": []int{5}, "total_executions": 99})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	w = s.do(t, http.MethodPut, path, map[string]interface{}{"trigger_days": []int{0}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(t, http.MethodPost, path+"/toggle", map[string]interface{}{"enabled": false})
	require.Equal(t, http.StatusOK, w.Code)

	w = s.do(t, http.MethodGet, path, nil)
	decode(t, w, &rule)
	assert.False(t, rule.IsActive)
	assert.Equal(t, []int{5}, []int(rule.TriggerDays))
	assert.Zero(t, rule.TotalExecutions)

	w = s.do(t, http.MethodGet, "/api/automation/rules?clinic_id="+strconv.Itoa(int(clinic.ID)), nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list []models.AutomationRule
	decode(t, w, &list)
	assert.Len(t, list, 1)

	w = s.do(t, http.MethodPut, path, map[string]interface{}{"target_status": models.LeadStatusLost})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodPut, path, map[string]interface{}{}).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodPut, "/api/automation/rules/999", map[string]interface{}{}).Code)

	assert.Equal(t, http.StatusOK, s.do(t, http.MethodDelete, path, nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodDelete, path, nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, path, nil).Code)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/api/automation/rules/abc", nil).Code)
}

func TestRunNowAndMarkReplied(t *testing.T) {
	s := newServer(t)
	now := testutil.Now
	clinic := testutil.CreateClinic(t, s.db, "North")
	testutil.CreateLead(t, s.db, clinic.ID, "ana", models.LeadStatusHot, testutil.DaysAgo(now, 4))
	testutil.CreateLead(t, s.db, clinic.ID, "ben", models.LeadStatusHot, testutil.DaysAgo(now, 5))
	rule := testutil.CreateRule(t, s.db, clinic.ID, models.LeadStatusHot, 3)

	w := s.do(t, http.MethodPost, "/api/automations/run", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var res automation.CycleResult
	decode(t, w, &res)
	assert.Equal(t, 1, res.Rules)
	assert.Equal(t, 2, res.Executions)
	assert.Zero(t, res.Failures)

	w = s.do(t, http.MethodPost, "/api/automations/run", nil)
	decode(t, w, &res)
	assert.Zero(t, res.Executions)

	w = s.do(t, http.MethodGet, "/api/automation/rules/"+strconv.Itoa(int(rule.ID))+"/executions", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var execs []models.AutomationExecution
	decode(t, w, &execs)
	require.Len(t, execs, 2)

	replied := "/api/executions/" + strconv.Itoa(int(execs[0].ID)) + "/replied"
	w = s.do(t, http.MethodPost, replied, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, http.StatusConflict, s.do(t, http.MethodPost, replied, nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodPost, "/api/executions/9999/replied", nil).Code)

	w = s.do(t, http.MethodGet, "/api/automation/analytics", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var stats struct {
		TotalExecutions int64    `json:"total_executions"`
		Replies         int64    `json:"replies"`
		SuccessRate     *float64 `json:"success_rate"`
	}
	decode(t, w, &stats)
	assert.EqualValues(t, 2, stats.TotalExecutions)
	assert.EqualValues(t, 1, stats.Replies)
	require.NotNil(t, stats.SuccessRate)
	assert.InDelta(t, 50.0, *stats.SuccessRate, 1e-9)
}

func TestFollowUpsAndActivities(t *testing.T) {
	s := newServer(t)
	now := testutil.Now
	clinic := testutil.CreateClinic(t, s.db, "North")
	quiet := testutil.CreateLead(t, s.db, clinic.ID, "quiet", models.LeadStatusWarm, testutil.DaysAgo(now, 4))
	testutil.CreateMessage(t, s.db, quiet, models.DirectionInbound)

	path := "/api/clinics/" + strconv.Itoa(int(clinic.ID))
	w := s.do(t, http.MethodGet, path+"/follow-ups", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var leads []models.Lead
	decode(t, w, &leads)
	require.Len(t, leads, 1)
	assert.Equal(t, quiet.ID, leads[0].ID)

	w = s.do(t, http.MethodGet, "/api/clinics/999/follow-ups", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "[]", w.Body.String())

	w = s.do(t, http.MethodGet, path+"/activities", nil)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestLeadEndpoints(t *testing.T) {
	s := newServer(t)
	clinic := testutil.CreateClinic(t, s.db, "North")

	w := s.do(t, http.MethodPost, "/api/leads", map[string]interface{}{
		"clinic_id": clinic.ID,
		"name":      "Ana",
		"phone":     "+15550100",
		"status":    models.LeadStatusHot,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var lead models.Lead
	decode(t, w, &lead)
	assert.Nil(t, lead.LastContactedAt)

	leadPath := "/api/leads/" + strconv.Itoa(int(lead.ID))
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPut, leadPath, map[string]interface{}{"status": "GONE"}).Code)
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodPut, leadPath, map[string]interface{}{"status": models.LeadStatusWarm}).Code)

	w = s.do(t, http.MethodGet, "/api/clinics/"+strconv.Itoa(int(clinic.ID))+"/leads?status=WARM", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var leads []models.Lead
	decode(t, w, &leads)
	require.Len(t, leads, 1)

	w = s.do(t, http.MethodPost, leadPath+"/messages", map[string]interface{}{"content": "Called, left voicemail"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var reloaded models.Lead
	require.NoError(t, s.db.First(&reloaded, lead.ID).Error)
	require.NotNil(t, reloaded.LastContactedAt)
	assert.True(t, testutil.Now.Equal(*reloaded.LastContactedAt))

	w = s.do(t, http.MethodGet, leadPath+"/messages", nil)
	var msgs []models.Message
	decode(t, w, &msgs)
	require.Len(t, msgs, 1)
	assert.Equal(t, models.DirectionOutbound, msgs[0].Direction)

	assert.Equal(t, http.StatusOK, s.do(t, http.MethodDelete, leadPath, nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodDelete, leadPath, nil).Code)
}

func TestCORSPreflight(t *testing.T) {
	s := newServer(t)
	w := s.do(t, http.MethodOptions, "/api/automation/rules", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRunNowPushesExecutionsToWebSocket(t *testing.T) {
	s := newServer(t)
	now := testutil.Now
	north := testutil.CreateClinic(t, s.db, "North")
	south := testutil.CreateClinic(t, s.db, "South")
	lead := testutil.CreateLead(t, s.db, north.ID, "ana", models.LeadStatusHot, testutil.DaysAgo(now, 4))
	testutil.CreateLead(t, s.db, south.ID, "ben", models.LeadStatusHot, testutil.DaysAgo(now, 4))
	testutil.CreateRule(t, s.db, north.ID, models.LeadStatusHot, 3)
	testutil.CreateRule(t, s.db, south.ID, models.LeadStatusHot, 3)

	srv := httptest.NewServer(s.router)
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?clinic_id=" + strconv.Itoa(int(north.ID))
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return s.hub.ClientCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	w := s.do(t, http.MethodPost, "/api/automations/run", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev struct {
		Type     string `json:"type"`
		ClinicID uint   `json:"clinic_id"`
		Data     struct {
			LeadID     uint `json:"lead_id"`
			TriggerDay int  `json:"trigger_day"`
		} `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&ev))
	assert.Equal(t, ws.EventAutomationExecuted, ev.Type)
	assert.Equal(t, north.ID, ev.ClinicID)
	assert.Equal(t, lead.ID, ev.Data.LeadID)
	assert.Equal(t, 3, ev.Data.TriggerDay)

	// the south clinic's execution is filtered out
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(200*time.Millisecond)))
	assert.Error(t, conn.ReadJSON(&ev))
}

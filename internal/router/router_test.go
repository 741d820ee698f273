package router

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	caseHandler "github.com/jwalitptl/labcase-api/internal/handler/casework"
	catalogHandler "github.com/jwalitptl/labcase-api/internal/handler/catalog"
	"github.com/jwalitptl/labcase-api/internal/handler/health"
	promHandler "github.com/jwalitptl/labcase-api/internal/handler/prometheus"
	"github.com/jwalitptl/labcase-api/internal/middleware"
	"github.com/jwalitptl/labcase-api/internal/model"
	"github.com/jwalitptl/labcase-api/internal/repository/memory"
	"github.com/jwalitptl/labcase-api/internal/service/casework"
	"github.com/jwalitptl/labcase-api/internal/service/catalog"
	"github.com/jwalitptl/labcase-api/internal/service/rbac"
	"github.com/jwalitptl/labcase-api/pkg/auth"
	"github.com/jwalitptl/labcase-api/pkg/errors"
	"github.com/jwalitptl/labcase-api/pkg/metrics"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    int                    `json:"code"`
		Reason  string                 `json:"reason"`
		Details map[string]interface{} `json:"details"`
	} `json:"error"`
}

type okPinger struct{}

func (okPinger) PingContext(ctx context.Context) error { return nil }

type app struct {
	t      *testing.T
	engine *gin.Engine
	tokens *auth.TokenValidator
	rbac   *rbac.Service
}

func newApp(t *testing.T) *app {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := memory.New()
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics("labcase", reg)
	roles := rbac.NewService(store.RBAC(), time.Minute)
	cat := catalog.NewService(store.Catalog(), store.Cases(), roles, m, time.Minute)
	cases := casework.NewService(store.Cases(), cat, m)
	tokens := auth.NewTokenValidator("router-test", "labcase", "")

	r, err := NewRouter(
		middleware.NewAuthMiddleware(tokens, roles),
		caseHandler.NewHandler(cases),
		catalogHandler.NewHandler(cat),
		health.NewHandler(okPinger{}),
		promHandler.New(reg, m),
		RouterConfig{CORSConfig: middleware.DefaultCORSConfig()},
	)
	require.NoError(t, err)
	return &app{t: t, engine: r.Setup(), tokens: tokens, rbac: roles}
}

func (a *app) role(name string, perms ...string) model.Role {
	role := model.Role{Name: name}
	require.NoError(a.t, a.rbac.UpsertRole(context.Background(), &role, perms))
	return role
}

func (a *app) user(roles ...model.Role) string {
	id := uuid.New()
	for _, r := range roles {
		require.NoError(a.t, a.rbac.AssignRole(context.Background(), id, r.ID))
	}
	token, err := a.tokens.Sign(id, id.String()+"@lab.test", time.Hour)
	require.NoError(a.t, err)
	return token
}

func (a *app) do(method, path, token string, body interface{}) (*httptest.ResponseRecorder, envelope) {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	a.engine.ServeHTTP(w, req)

	var env envelope
	if w.Body.Len() > 0 && w.Header().Get("Content-Type") == "application/json; charset=utf-8" {
		require.NoError(a.t, json.Unmarshal(w.Body.Bytes(), &env))
	}
	return w, env
}

func TestCaseLifecycleOverHTTP(t *testing.T) {
	a := newApp(t)
	adminRole := a.role("lab_admin", model.PermissionCatalogManage, model.PermissionCasesApprove, model.PermissionCasesOverrideDelivery)
	techRole := a.role("technician")
	qcRole := a.role("qc")
	admin := a.user(adminRole)
	tech := a.user(techRole)

	w, env := a.do(http.MethodPost, "/api/v1/types", tech, model.CreateCaseTypeRequest{Name: "Lipid Panel"})
	require.Equal(t, http.StatusForbidden, w.Code)

	w, env = a.do(http.MethodPost, "/api/v1/types", admin, model.CreateCaseTypeRequest{
		Name: "Lipid Panel",
		Stages: []model.StageTemplateRequest{
			{Name: "Collect"},
			{Name: "Centrifuge"},
			{Name: "Analyze"},
			{Name: "Review", AllowedRoles: []uuid.UUID{qcRole.ID}},
		},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var ct model.CaseType
	require.NoError(t, json.Unmarshal(env.Data, &ct))
	require.Len(t, ct.Stages, 4)

	w, env = a.do(http.MethodPost, "/api/v1/cases", tech, model.CreateCaseRequest{
		DoctorID:   uuid.New(),
		PatientID:  uuid.New(),
		CaseTypeID: ct.ID,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var c model.Case
	require.NoError(t, json.Unmarshal(env.Data, &c))
	base := "/api/v1/cases/" + c.ID.String()

	w, env = a.do(http.MethodPost, base+"/advance", tech, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NoError(t, json.Unmarshal(env.Data, &c))
	assert.Equal(t, 1, c.CurrentStageOrder)

	w, env = a.do(http.MethodPost, base+"/advance", tech, map[string]int{"target_order": 4})
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, errors.ReasonRoleNotAuthorized, env.Error.Reason)

	w, env = a.do(http.MethodPost, base+"/advance", tech, map[string]int{"target_order": 7})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, errors.ReasonInvalidTargetOrder, env.Error.Reason)

	w, _ = a.do(http.MethodPost, base+"/advance", tech, map[string]interface{}{
		"target_order":    2,
		"target_stage_id": ct.Stages[1].ID,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, env = a.do(http.MethodPost, base+"/stages/"+ct.Stages[0].ID.String()+"/status", tech, map[string]string{"status": "archived"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "stage_status", env.Error.Details["status"])

	w, _ = a.do(http.MethodPost, base+"/approve", tech, model.ApprovalRequest{Approved: true})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, env = a.do(http.MethodPost, base+"/approve", admin, model.ApprovalRequest{Approved: true})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	require.NoError(t, json.Unmarshal(env.Data, &c))
	assert.Equal(t, model.DeliveryStatusDelivered, c.Delivery.Status)
	assert.True(t, c.Approval.Approved)

	w, env = a.do(http.MethodGet, base+"/display", tech, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var d model.DisplayCase
	require.NoError(t, json.Unmarshal(env.Data, &d))
	assert.Equal(t, float64(100), d.Progress)
	assert.Equal(t, "Review", d.CurrentStageName)

	w, env = a.do(http.MethodGet, base+"/audit", tech, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var trail model.AuditTrail
	require.NoError(t, json.Unmarshal(env.Data, &trail))
	require.Len(t, trail, 3)
	assert.Equal(t, model.AuditActorAutoCompleteOverride, trail[2].ActorRole)

	stagePath := "/api/v1/types/" + ct.ID.String() + "/stages/" + ct.Stages[1].ID.String()
	w, env = a.do(http.MethodDelete, stagePath, admin, nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, errors.ReasonStageInUse, env.Error.Reason)

	w, env = a.do(http.MethodDelete, stagePath+"?force=true", admin, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "1", w.Header().Get(catalogHandler.AffectedCasesHeader))
	require.NoError(t, json.Unmarshal(env.Data, &ct))
	assert.Len(t, ct.Stages, 3)

	w, env = a.do(http.MethodGet, base, tech, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(env.Data, &c))
	assert.Len(t, c.Stages, 3)
	assert.Equal(t, 3, c.CurrentStageOrder)
	assert.Equal(t, model.DeliveryStatusDelivered, c.Delivery.Status)
}

func TestListCasesQuery(t *testing.T) {
	a := newApp(t)
	token := a.user(a.role("technician"))

	w, env := a.do(http.MethodGet, "/api/v1/cases?delivery_status=pending&page=1&page_size=10", token, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.True(t, env.Success)

	w, env = a.do(http.MethodGet, "/api/v1/cases?delivery_status=lost", token, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, _ = a.do(http.MethodGet, "/api/v1/cases/not-a-uuid", token, nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, env = a.do(http.MethodGet, "/api/v1/cases/"+uuid.NewString(), token, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, errors.ReasonNotFound, env.Error.Reason)
}

func TestOperationalEndpoints(t *testing.T) {
	a := newApp(t)

	w, _ := a.do(http.MethodGet, "/health/live", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = a.do(http.MethodGet, "/api/v1/cases", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = a.do(http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "labcase_http_requests_total")
}

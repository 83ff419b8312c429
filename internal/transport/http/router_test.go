package httptransport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"bastion/internal/analytics"
	"bastion/internal/apitoken"
	"bastion/internal/credential"
	"bastion/internal/csrf"
	"bastion/internal/event"
	"bastion/internal/incident"
	incidenthandler "bastion/internal/incident/handler"
	"bastion/internal/platform/logger"
	ratelimitservice "bastion/internal/ratelimit/service"
	"bastion/internal/ratelimit/store/counter"
	"bastion/internal/threat"
)

// RouterSuite exercises the assembled guard chain end to end: real stores,
// real guards, and a running orchestrator behind an httptest front door.
type RouterSuite struct {
	suite.Suite
	router http.Handler
	store  *event.InMemoryStore
	bus    *event.Publisher
	orch   *incident.Orchestrator
	blocks *incident.InMemoryBlockStore
	cancel context.CancelFunc
}

func TestRouterSuite(t *testing.T) {
	suite.Run(t, new(RouterSuite))
}

func (s *RouterSuite) SetupTest() {
	log := logger.New()

	s.store = event.NewInMemoryStore()
	s.bus = event.NewPublisher(s.store)

	sessions, err := credential.New("test-seal-key", 30*time.Minute)
	s.Require().NoError(err)

	guard, err := csrf.NewGuard(csrf.NewInMemoryTokenStore(), time.Hour)
	s.Require().NoError(err)

	directory := credential.NewDirectory()
	_, err = directory.Register("member@example.com", "member-password", credential.RoleMember)
	s.Require().NoError(err)
	_, err = directory.Register("admin@example.com", "admin-password", credential.RoleAdmin)
	s.Require().NoError(err)

	limiter, err := ratelimitservice.New(counter.New(), ratelimitservice.WithEmitter(s.bus))
	s.Require().NoError(err)

	s.blocks = incident.NewInMemoryBlockStore()
	s.orch, err = incident.New(incident.Config{
		CooldownWindow:     15 * time.Minute,
		BlockTTL:           30 * time.Minute,
		HighEventThreshold: 3,
		EventRetention:     48 * time.Hour,
		SweepInterval:      time.Minute,
	}, s.blocks, limiter, incident.WithEmitter(s.bus), incident.WithPruner(s.bus), incident.WithLogger(log))
	s.Require().NoError(err)
	s.bus.Subscribe(s.orch)

	analyticsSvc := analytics.New(analytics.DefaultConfig(), s.bus, s.orch)
	tokens := apitoken.New("test-signing-key-at-least-32-bytes!!", "bastion", "bastion-admin", time.Hour)

	s.router = NewRouter(RouterDeps{
		Logger:      log,
		Sessions:    sessions,
		CSRFGuard:   guard,
		Detector:    threat.NewDetector(),
		RateLimiter: limiter,
		BlockStore:  s.blocks,
		AdminTokens: tokens,
		Emitter:     s.bus,
		Auth:        NewAuthHandler(directory, sessions, guard, s.bus, log, 30*time.Minute, false),
		Forms:       NewFormsHandler(log),
		Incident:    incidenthandler.New(s.orch, limiter, analyticsSvc, s.bus, log),
	})

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	go func() { _ = s.orch.Run(ctx) }()
}

func (s *RouterSuite) TearDownTest() {
	s.cancel()
}

type loginResult struct {
	cookie    *http.Cookie
	csrfToken string
}

func (s *RouterSuite) do(method, path, body string, cookie *http.Cookie, headers map[string]string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(method, path, strings.NewReader(body))
	if method == http.MethodPost {
		r.Header.Set("Content-Type", "application/json")
	}
	if cookie != nil {
		r.AddCookie(cookie)
	}
	for k, v := range headers {
		r.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, r)
	return rec
}

func (s *RouterSuite) login(email, password string) loginResult {
	rec := s.do(http.MethodPost, "/auth/login",
		`{"email":"`+email+`","password":"`+password+`"}`, nil, nil)
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		CSRFToken string `json:"csrfToken"`
	}
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &resp))

	cookies := rec.Result().Cookies()
	s.Require().Len(cookies, 1)
	return loginResult{cookie: cookies[0], csrfToken: resp.CSRFToken}
}

func (s *RouterSuite) TestHealthz() {
	rec := s.do(http.MethodGet, "/healthz", "", nil, nil)
	s.Equal(http.StatusOK, rec.Code)
	s.JSONEq(`{"status":"ok"}`, rec.Body.String())
}

func (s *RouterSuite) TestMetricsEndpointServes() {
	rec := s.do(http.MethodGet, "/metrics", "", nil, nil)
	s.Equal(http.StatusOK, rec.Code)
}

func (s *RouterSuite) TestAttackerWalkthrough() {
	session := s.login("member@example.com", "member-password")

	// A legitimate submission clears the whole chain.
	rec := s.do(http.MethodPost, "/forms/contact",
		`{"name":"Dana","email":"dana@example.com","message":"Looking for algebra help."}`,
		session.cookie, map[string]string{csrf.HeaderName: session.csrfToken})
	s.Equal(http.StatusAccepted, rec.Code, rec.Body.String())

	// Same session, forged anti-forgery token.
	rec = s.do(http.MethodPost, "/forms/contact",
		`{"name":"Dana","email":"dana@example.com","message":"hi"}`,
		session.cookie, map[string]string{csrf.HeaderName: "forged"})
	s.Equal(http.StatusForbidden, rec.Code)
	s.JSONEq(`{"success":false,"error":"csrf_violation"}`, rec.Body.String())

	// Three hostile payloads from the same address. Each is rejected at the
	// threat guard; together they cross the repeat-offense threshold.
	for i := 0; i < 3; i++ {
		rec = s.do(http.MethodPost, "/forms/contact",
			`{"name":"x","email":"x@example.com","message":"<script>alert(`+string(rune('0'+i))+`)</script>"}`,
			nil, nil)
		s.Equal(http.StatusForbidden, rec.Code)
		s.JSONEq(`{"success":false,"error":"suspicious_input"}`, rec.Body.String())
	}

	// The orchestrator consumes off the request path; wait for containment.
	s.Require().Eventually(func() bool {
		return s.orch.Stats().Contained == 1
	}, 2*time.Second, 10*time.Millisecond, "repeat offender must be contained")

	// Once contained, the blocklist guard rejects everything from the actor.
	rec = s.do(http.MethodGet, "/healthz", "", nil, nil)
	s.Equal(http.StatusForbidden, rec.Code)
	s.JSONEq(`{"success":false,"error":"forbidden"}`, rec.Body.String())
	s.NotEmpty(rec.Header().Get("Retry-After"))

	// The violations are all on the bus for analytics.
	events, err := s.bus.Query(context.Background(), event.Filter{
		Types: []event.Type{event.TypeCSRFViolation, event.TypeSuspiciousInput},
	})
	s.Require().NoError(err)
	s.Len(events, 4)

	// A further qualifying event for the contained actor, reported from a
	// deeper layer, hands the incident to a human.
	e, err := event.New(event.TypeSQLInjectionAttempt, event.SeverityCritical, "192.0.2.1", "/forms/contact", nil)
	s.Require().NoError(err)
	s.Require().NoError(s.bus.Emit(context.Background(), e))

	s.Require().Eventually(func() bool {
		return s.orch.Stats().Escalated == 1
	}, 2*time.Second, 10*time.Millisecond, "repeat offense during containment must escalate")
}

func (s *RouterSuite) TestRateLimitEnforced() {
	for i := 0; i < 3; i++ {
		rec := s.do(http.MethodPost, "/forms/newsletter", `{"email":"dana@example.com"}`, nil, nil)
		s.Equal(http.StatusAccepted, rec.Code, "signup %d", i+1)
	}

	rec := s.do(http.MethodPost, "/forms/newsletter", `{"email":"dana@example.com"}`, nil, nil)
	s.Equal(http.StatusTooManyRequests, rec.Code)
	s.NotEmpty(rec.Header().Get("Retry-After"))
	s.Contains(rec.Body.String(), "rate_limited")
}

func (s *RouterSuite) TestAdminSurfaceHiddenFromNonAdmins() {
	rec := s.do(http.MethodGet, "/admin/incidents", "", nil, nil)
	s.Equal(http.StatusNotFound, rec.Code)
	s.JSONEq(`{"success":false,"error":"not_found"}`, rec.Body.String())

	member := s.login("member@example.com", "member-password")
	rec = s.do(http.MethodGet, "/admin/incidents", "", member.cookie, nil)
	s.Equal(http.StatusNotFound, rec.Code)
	s.JSONEq(`{"success":false,"error":"not_found"}`, rec.Body.String())
}

func (s *RouterSuite) TestAdminIncidentLifecycle() {
	admin := s.login("admin@example.com", "admin-password")

	// Synthesize a critical event; containment outcome comes back synchronously.
	rec := s.do(http.MethodPost, "/admin/incidents",
		`{"type":"sql_injection_attempt","severity":"critical","clientIp":"198.51.100.9","path":"/forms/contact"}`,
		admin.cookie, map[string]string{csrf.HeaderName: admin.csrfToken})
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())

	var outcome struct {
		IncidentID *string `json:"incidentId"`
		Blocked    bool    `json:"blocked"`
	}
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &outcome))
	s.Require().NotNil(outcome.IncidentID)
	s.True(outcome.Blocked)

	// The overview reflects the containment.
	rec = s.do(http.MethodGet, "/admin/incidents", "", admin.cookie, nil)
	s.Require().Equal(http.StatusOK, rec.Code)
	var overview struct {
		Stats  incident.Stats `json:"stats"`
		Health struct {
			BlockedIPs int `json:"blockedIPs"`
		} `json:"health"`
	}
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &overview))
	s.Equal(1, overview.Stats.Contained)
	s.Equal(1, overview.Health.BlockedIPs)

	// Manual resolution closes it; a second resolve hits the status graph.
	rec = s.do(http.MethodPost, "/admin/incidents/"+*outcome.IncidentID+"/resolve",
		"", admin.cookie, map[string]string{csrf.HeaderName: admin.csrfToken})
	s.Require().Equal(http.StatusOK, rec.Code, rec.Body.String())
	s.JSONEq(`{"success":true}`, rec.Body.String())

	rec = s.do(http.MethodPost, "/admin/incidents/"+*outcome.IncidentID+"/resolve",
		"", admin.cookie, map[string]string{csrf.HeaderName: admin.csrfToken})
	s.Equal(http.StatusConflict, rec.Code)
	s.JSONEq(`{"success":false,"error":"invariant_violation"}`, rec.Body.String())
}

func (s *RouterSuite) TestAdminThreatMetrics() {
	admin := s.login("admin@example.com", "admin-password")

	rec := s.do(http.MethodGet, "/admin/threat-metrics", "", admin.cookie, nil)
	s.Require().Equal(http.StatusOK, rec.Code)

	var m analytics.Metrics
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &m))
	s.Equal(100, m.SecurityScore)
	s.Equal(analytics.RiskNormal, m.ThreatLevel)
}

func (s *RouterSuite) TestAdminBearerTokenAccess() {
	tokens := apitoken.New("test-signing-key-at-least-32-bytes!!", "bastion", "bastion-admin", time.Hour)
	adminID, err := credential.NewDirectory().Register("ops@example.com", "pw", credential.RoleAdmin)
	s.Require().NoError(err)
	bearer, err := tokens.Generate(context.Background(), adminID, "admin")
	s.Require().NoError(err)

	rec := s.do(http.MethodGet, "/admin/incidents", "", nil, map[string]string{
		"Authorization": "Bearer " + bearer,
	})
	s.Equal(http.StatusOK, rec.Code, rec.Body.String())
}

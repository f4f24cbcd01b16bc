package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fernwright/questweaver/internal/cache"
	"github.com/fernwright/questweaver/internal/config"
	"github.com/fernwright/questweaver/internal/llm"
	"github.com/fernwright/questweaver/internal/memory"
	"github.com/fernwright/questweaver/internal/storage/storagetest"
	"github.com/fernwright/questweaver/pkg/types"
)

func newTestServer(t *testing.T, cfg config.ServerConfig) (*Server, *storagetest.Store, *cache.Cache) {
	t.Helper()
	store := storagetest.New()
	responses, err := cache.New(config.CacheConfig{
		ExactTTL: time.Hour, SemanticTTL: time.Hour, StaticTTL: time.Hour,
		SimilarityThreshold: 0.85, ExactSize: 8, SemanticSize: 8,
	}, nil)
	require.NoError(t, err)

	mem := memory.NewService(store, nil, nil, nil, config.MemoryConfig{
		WorkingCap:      10,
		EpisodeBatchMin: 10,
		WorkingTTL:      720 * time.Hour,
		CompressAfter:   time.Hour,
	})

	return New(cfg, nil, mem, store, store, responses), store, responses
}

func do(t *testing.T, s *Server, method, path, token string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	req.RemoteAddr = "192.0.2.1:1234"
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.http.Handler.ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	s, _, _ := newTestServer(t, config.ServerConfig{})

	rec := do(t, s, http.MethodGet, "/api/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestAuthMiddleware(t *testing.T) {
	s, _, _ := newTestServer(t, config.ServerConfig{APIToken: "secret"})

	rec := do(t, s, http.MethodGet, "/api/health", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, s, http.MethodGet, "/api/health", "wrong", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(t, s, http.MethodGet, "/api/health", "secret", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRateLimitMiddleware(t *testing.T) {
	s, _, _ := newTestServer(t, config.ServerConfig{RateRPS: 1})

	// Burst allows rps+1 requests; the next one is rejected.
	limited := false
	for i := 0; i < 5; i++ {
		if do(t, s, http.MethodGet, "/api/health", "", "").Code == http.StatusTooManyRequests {
			limited = true
			break
		}
	}
	assert.True(t, limited, "sustained bursts must hit the limiter")
}

func TestSubjectRoundTrip(t *testing.T) {
	s, _, _ := newTestServer(t, config.ServerConfig{})

	rec := do(t, s, http.MethodGet, "/api/subjects/subject-1", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	body := `{"name":"Rowan","level":1,"hp":20,"max_hp":20,"stats":{"strength":14}}`
	rec = do(t, s, http.MethodPut, "/api/subjects/subject-1", "", body)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, s, http.MethodGet, "/api/subjects/subject-1", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var sheet types.SubjectSheet
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &sheet))
	assert.Equal(t, "Rowan", sheet.Name)
	assert.Equal(t, 14, sheet.Stats[types.StatStrength])
}

func TestPutSubjectRejectsMalformedSheet(t *testing.T) {
	s, _, _ := newTestServer(t, config.ServerConfig{})

	rec := do(t, s, http.MethodPut, "/api/subjects/subject-1", "", `{"name":"","level":0}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func seedCachedResponse(t *testing.T, responses *cache.Cache, subjectID string) llm.CompletionRequest {
	t.Helper()
	req := llm.CompletionRequest{
		SystemPrompt: "narrate",
		UserPrompt:   "you enter the tavern",
		MaxTokens:    700,
		Temperature:  0.8,
		Cacheable:    true,
	}
	responses.Store(context.Background(), subjectID, req, &llm.CompletionResponse{Text: `{"narrative":"The tavern hums."}`})

	cached, _ := responses.Lookup(context.Background(), subjectID, req)
	require.NotNil(t, cached)
	return req
}

func TestPutSubjectInvalidatesCachedResponses(t *testing.T) {
	s, _, responses := newTestServer(t, config.ServerConfig{})
	req := seedCachedResponse(t, responses, "subject-1")

	body := `{"name":"Rowan","level":2,"hp":20,"max_hp":20}`
	rec := do(t, s, http.MethodPut, "/api/subjects/subject-1", "", body)
	require.Equal(t, http.StatusOK, rec.Code)

	cached, tier := responses.Lookup(context.Background(), "subject-1", req)
	assert.Nil(t, cached, "a sheet update stales the subject's cached narratives")
	assert.Equal(t, types.CacheTierMiss, tier)
}

func TestPostEventInvalidatesCachedResponses(t *testing.T) {
	s, _, responses := newTestServer(t, config.ServerConfig{})
	req := seedCachedResponse(t, responses, "subject-1")

	body := `{"subject_id":"subject-1","type":"goal_completion","description":"Walked 10,000 steps"}`
	rec := do(t, s, http.MethodPost, "/api/events", "", body)
	require.Equal(t, http.StatusCreated, rec.Code)

	cached, tier := responses.Lookup(context.Background(), "subject-1", req)
	assert.Nil(t, cached, "a recorded event stales the subject's cached narratives")
	assert.Equal(t, types.CacheTierMiss, tier)
}

func TestGetCombatReportsOpenEncounter(t *testing.T) {
	s, store, _ := newTestServer(t, config.ServerConfig{})

	rec := do(t, s, http.MethodGet, "/api/subjects/subject-1/combat", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	now := time.Now().UTC()
	require.NoError(t, store.SaveEncounter(context.Background(), &types.CombatEncounter{
		ID: "enc-1", SubjectID: "subject-1", Status: types.EncounterActive, Round: 1,
		InitiativeOrder: []types.Combatant{
			{ID: "player-1", Name: "Rowan", IsPlayer: true, Initiative: 12, HP: 20, MaxHP: 20},
			{ID: "enemy-1", Name: "Wolf", Initiative: 15, HP: 6, MaxHP: 6},
		},
		Zones:     map[string]types.Zone{"player-1": types.ZoneClose, "enemy-1": types.ZoneNear},
		CreatedAt: now, UpdatedAt: now,
	}))

	rec = do(t, s, http.MethodGet, "/api/subjects/subject-1/combat", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var encounter types.CombatEncounter
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &encounter))
	assert.Equal(t, types.EncounterActive, encounter.Status)
	assert.Len(t, encounter.InitiativeOrder, 2)
}

func TestHubDropsSlowClientsWithoutBlocking(t *testing.T) {
	hub := NewHub()

	done := make(chan struct{})
	go func() {
		defer close(done)
		// No clients registered; broadcasts must not block.
		for i := 0; i < 100; i++ {
			hub.Broadcast(TurnEvent{Type: "turn", SubjectID: "subject-1"})
		}
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("broadcast blocked with no clients")
	}
	assert.Zero(t, hub.ClientCount())
}

package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/habitnest/internal/achievements"
	"github.com/MarcoPoloResearchLab/habitnest/internal/auth"
	"github.com/MarcoPoloResearchLab/habitnest/internal/database"
	"github.com/MarcoPoloResearchLab/habitnest/internal/habits"
	"github.com/MarcoPoloResearchLab/habitnest/internal/users"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// fixedNow is a Wednesday.
var fixedNow = time.Date(2024, time.March, 13, 9, 30, 0, 0, time.UTC)

type testStack struct {
	handler    http.Handler
	deps       Dependencies
	background *BackgroundTasks
	tokens     *auth.TokenIssuer
	habits     *habits.Service
	trigger    *achievements.Trigger
	dispatcher *RealtimeDispatcher
}

func newTestStack(t *testing.T, logger *zap.Logger) *testStack {
	t.Helper()
	gin.SetMode(gin.TestMode)
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := func() time.Time { return fixedNow }

	db, err := database.Open(database.Options{
		Driver: database.DriverSQLite,
		Path:   filepath.Join(t.TempDir(), "server.db"),
	}, logger)
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}

	habitService, err := habits.NewService(habits.ServiceConfig{
		Database:   db,
		Clock:      clock,
		IDProvider: habits.NewUUIDProvider(),
		Logger:     logger,
	})
	if err != nil {
		t.Fatalf("failed to create habits service: %v", err)
	}
	accounts, err := users.NewService(users.ServiceConfig{
		Database: db,
		Clock:    clock,
		Logger:   logger,
		HashCost: bcrypt.MinCost,
	})
	if err != nil {
		t.Fatalf("failed to create account service: %v", err)
	}
	catalog := achievements.DefaultCatalog()
	ledger, err := achievements.NewLedger(achievements.LedgerConfig{Database: db, Catalog: catalog, Clock: clock, Logger: logger})
	if err != nil {
		t.Fatalf("failed to create ledger: %v", err)
	}
	achievementService, err := achievements.NewService(achievements.ServiceConfig{Ledger: ledger, Catalog: catalog, Logger: logger})
	if err != nil {
		t.Fatalf("failed to create achievements service: %v", err)
	}
	dispatcher := NewRealtimeDispatcher()
	trigger, err := achievements.NewTrigger(achievements.TriggerConfig{
		Service:   achievementService,
		Source:    habitService,
		Publisher: dispatcher,
		Logger:    logger,
	})
	if err != nil {
		t.Fatalf("failed to create trigger: %v", err)
	}
	tokens, err := auth.NewTokenIssuer(auth.TokenIssuerConfig{
		SigningSecret: []byte("test-signing-secret"),
		Issuer:        auth.DefaultIssuer,
		Audience:      auth.DefaultAudience,
		TokenTTL:      time.Hour,
		Clock:         clock,
	})
	if err != nil {
		t.Fatalf("failed to create token issuer: %v", err)
	}

	background := NewBackgroundTasks()
	t.Cleanup(background.Wait)
	deps := Dependencies{
		TokenManager:      tokens,
		Accounts:          accounts,
		Habits:            habitService,
		Achievements:      achievementService,
		Trigger:           trigger,
		Realtime:          dispatcher,
		Background:        background,
		Clock:             clock,
		HeartbeatInterval: time.Hour,
		Logger:            logger,
	}
	handler, err := NewHTTPHandler(deps)
	if err != nil {
		t.Fatalf("failed to construct http handler: %v", err)
	}

	return &testStack{
		handler:    handler,
		deps:       deps,
		background: background,
		tokens:     tokens,
		habits:     habitService,
		trigger:    trigger,
		dispatcher: dispatcher,
	}
}

func (s *testStack) tokenFor(t *testing.T, userID string) string {
	t.Helper()
	token, _, err := s.tokens.IssueToken(context.Background(), userID)
	if err != nil {
		t.Fatalf("failed to issue token: %v", err)
	}
	return token
}

// do performs a request, waits for the evaluation passes it started and decodes a JSON response body
// into out when out is non-nil.
func (s *testStack) do(t *testing.T, method, path, token string, body any, out any) int {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to encode request: %v", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}
	request := httptest.NewRequest(method, path, reader)
	request.Header.Set("Content-Type", "application/json")
	if token != "" {
		request.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	s.handler.ServeHTTP(recorder, request)
	s.background.Wait()
	if out != nil && recorder.Body.Len() > 0 {
		if err := json.Unmarshal(recorder.Body.Bytes(), out); err != nil {
			t.Fatalf("failed to decode response %q: %v", recorder.Body.String(), err)
		}
	}
	return recorder.Code
}

package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/pistat/pistat/internal/config"
)

// A failed startup registration must surface as an error from runAgent,
// not exit the process, so the deferred queue close gets to run.
func TestRunAgent_RegistrationFailureReturnsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Agent.ServerURL = srv.URL
	cfg.Agent.QueuePath = filepath.Join(dir, "local_cache.db")
	cfg.Agent.StatePath = filepath.Join(dir, "client_config.json")
	cfg.Agent.Interval = config.Duration{Duration: time.Second}

	err := runAgent(context.Background(), cfg, zap.NewNop())
	if err == nil {
		t.Fatal("expected registration error")
	}
}

// Package api is the server's HTTP surface: device registration,
// snapshot ingestion, and the read-only projections used by dashboards.
// All bodies are JSON; errors cross the wire as structured JSON with an
// "error" field, never as stack traces.
package api

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/pistat/pistat/internal/latest"
	"github.com/pistat/pistat/internal/models"
	"github.com/pistat/pistat/internal/store"
)

// historyLimit bounds the number of points the history endpoint returns.
const historyLimit = 100

// Server holds the ingestion service's dependencies.
type Server struct {
	store   *store.Store
	cache   *latest.Cache
	version string
	logger  *zap.Logger
}

// New creates the ingestion service.
func New(st *store.Store, cache *latest.Cache, version string, logger *zap.Logger) *Server {
	return &Server{
		store:   st,
		cache:   cache,
		version: version,
		logger:  logger,
	}
}

// Router builds the HTTP routes. The version gate guards the two write
// endpoints only; reads and the version probe are open.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(metricsMiddleware)

	apiRouter := r.PathPrefix("/api").Subrouter()
	apiRouter.HandleFunc("/register", s.requireVersion(s.handleRegister)).Methods(http.MethodPost)
	apiRouter.HandleFunc("/data", s.requireVersion(s.handleData)).Methods(http.MethodPost)
	apiRouter.HandleFunc("/devices", s.handleDevices).Methods(http.MethodGet)
	apiRouter.HandleFunc("/history/{device_id:[0-9]+}", s.handleHistory).Methods(http.MethodGet)
	apiRouter.HandleFunc("/latest/{device_id:[0-9]+}", s.handleLatest).Methods(http.MethodGet)
	apiRouter.HandleFunc("/version", s.handleVersion).Methods(http.MethodGet)

	r.Handle("/metrics", promhttp.Handler())

	return r
}

// requireVersion enforces the exact-match protocol version gate. A
// missing or different X-Client-Version header is rejected with 426
// before the handler runs, so no persistence can happen for an
// incompatible client.
func (s *Server) requireVersion(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clientVersion := r.Header.Get(models.VersionHeader)
		if clientVersion != s.version {
			versionRejections.Inc()
			s.logger.Warn("Rejected incompatible client",
				zap.String("client_version", clientVersion),
				zap.String("remote", r.RemoteAddr))
			writeJSON(w, http.StatusUpgradeRequired, models.ErrorResponse{
				Error:         "client version mismatch, upgrade required",
				ClientVersion: clientVersion,
				ServerVersion: s.version,
			})
			return
		}
		next(w, r)
	}
}

// handleRegister upserts a device by UID. New device -> 201, existing
// device refreshed -> 200.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req models.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.DeviceUID == "" {
		writeError(w, http.StatusBadRequest, "device_uid is required")
		return
	}

	name := req.DeviceName
	if name == "" {
		name = "Unnamed Device"
	}

	deviceID, created, err := s.store.RegisterDevice(
		req.DeviceUID, name, req.Hostname, remoteIP(r), time.Now().UTC())
	if err != nil {
		s.logger.Error("Registration failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, models.RegisterResponse{
		Status:   "success",
		DeviceID: deviceID,
	})
}

// handleData persists one snapshot. Unknown device ids are rejected
// with 404 — never silently dropped, never auto-registered.
func (s *Server) handleData(w http.ResponseWriter, r *http.Request) {
	var req models.DataRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.DeviceID == 0 || req.Metrics == nil {
		writeError(w, http.StatusBadRequest, "device_id and metrics are required")
		return
	}

	statID, err := s.store.SaveStats(req.DeviceID, req.Metrics, time.Now().UTC())
	if err != nil {
		if errors.Is(err, store.ErrUnknownDevice) {
			writeError(w, http.StatusNotFound, "Device not registered")
			return
		}
		s.logger.Error("Failed to persist snapshot",
			zap.Int64("device_id", req.DeviceID),
			zap.Error(err))
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}
	snapshotsStored.Inc()

	// Refresh the dashboard fast path from what we just stored.
	if stat, err := s.store.Latest(req.DeviceID); err == nil && stat != nil {
		s.cache.Set(req.DeviceID, *stat)
	}

	s.logger.Debug("Snapshot stored",
		zap.Int64("device_id", req.DeviceID),
		zap.Int64("stat_id", statID))
	writeJSON(w, http.StatusCreated, map[string]string{"status": "success"})
}

// handleDevices lists all registered devices, most recently seen first.
func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	devices, err := s.store.Devices()
	if err != nil {
		s.logger.Error("Failed to list devices", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}
	writeJSON(w, http.StatusOK, devices)
}

// handleHistory returns up to 100 recent points for a device, newest
// first.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	deviceID := pathDeviceID(r)
	history, err := s.store.History(deviceID, historyLimit)
	if err != nil {
		s.logger.Error("Failed to read history",
			zap.Int64("device_id", deviceID),
			zap.Error(err))
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}
	writeJSON(w, http.StatusOK, history)
}

// handleLatest returns the newest stat for a device, preferring the
// in-process cache and falling back to the database (e.g. right after
// a server restart).
func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	deviceID := pathDeviceID(r)

	if stat, ok := s.cache.Get(deviceID); ok {
		writeJSON(w, http.StatusOK, stat)
		return
	}

	stat, err := s.store.Latest(deviceID)
	if err != nil {
		s.logger.Error("Failed to read latest stat",
			zap.Int64("device_id", deviceID),
			zap.Error(err))
		writeError(w, http.StatusInternalServerError, "database error")
		return
	}
	if stat == nil {
		writeError(w, http.StatusNotFound, "No data for this device")
		return
	}

	s.cache.Set(deviceID, *stat)
	writeJSON(w, http.StatusOK, *stat)
}

// handleVersion reports the server's protocol version so operators can
// diagnose version-gate rejections.
func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
}

// pathDeviceID extracts the device id path variable. The route pattern
// guarantees it is numeric.
func pathDeviceID(r *http.Request) int64 {
	id, _ := strconv.ParseInt(mux.Vars(r)["device_id"], 10, 64)
	return id
}

// remoteIP strips the port from the request's remote address.
func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, models.ErrorResponse{Error: message})
}

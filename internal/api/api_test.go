package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/pistat/pistat/internal/latest"
	"github.com/pistat/pistat/internal/models"
	"github.com/pistat/pistat/internal/store"
)

func newTestServer(t *testing.T) (*httptest.Server, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "stats.db"), zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })

	service := New(st, latest.NewCache(), models.ProtocolVersion, zap.NewNop())
	srv := httptest.NewServer(service.Router())
	t.Cleanup(srv.Close)
	return srv, st
}

func postJSON(t *testing.T, url string, body interface{}, version string) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if version != "" {
		req.Header.Set(models.VersionHeader, version)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func registerDevice(t *testing.T, srv *httptest.Server, uid string) int64 {
	t.Helper()
	resp := postJSON(t, srv.URL+"/api/register",
		models.RegisterRequest{DeviceUID: uid, DeviceName: "pi", Hostname: "pi"},
		models.ProtocolVersion)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("register status = %d", resp.StatusCode)
	}
	var reply models.RegisterResponse
	json.NewDecoder(resp.Body).Decode(&reply)
	return reply.DeviceID
}

func snapshot(cpu float64, ts time.Time) *models.MetricSnapshot {
	return &models.MetricSnapshot{
		Timestamp: ts,
		CPU:       models.CPUStats{UsagePercent: cpu, Frequency: "1500.00 MHz"},
		Memory:    models.MemoryStats{Total: 3.71, Used: 1.2, Percentage: 32.3},
		Disk:      models.DiskStats{Total: 29.5, Used: 11.2, Percentage: 37.97},
		Network: models.NetworkStats{
			Interfaces: map[string]models.InterfaceStats{
				"eth0": {BytesSent: 100, BytesRecv: 200, IsUp: true},
			},
		},
		TemperatureC: 48.3,
	}
}

func TestVersionGate_RejectsMismatch(t *testing.T) {
	srv, st := newTestServer(t)

	for _, version := range []string{"", "0.0.1"} {
		resp := postJSON(t, srv.URL+"/api/register",
			models.RegisterRequest{DeviceUID: "aa:bb"}, version)
		if resp.StatusCode != http.StatusUpgradeRequired {
			t.Errorf("version %q: status = %d, want 426", version, resp.StatusCode)
		}
		var body models.ErrorResponse
		json.NewDecoder(resp.Body).Decode(&body)
		resp.Body.Close()
		if body.ServerVersion != models.ProtocolVersion {
			t.Errorf("server_version = %q", body.ServerVersion)
		}
		if body.ClientVersion != version {
			t.Errorf("client_version = %q, want %q", body.ClientVersion, version)
		}
	}

	// The gate must fire before any persistence.
	devices, err := st.Devices()
	if err != nil {
		t.Fatal(err)
	}
	if len(devices) != 0 {
		t.Errorf("devices persisted through version gate: %d", len(devices))
	}

	resp := postJSON(t, srv.URL+"/api/data",
		models.DataRequest{DeviceID: 1, Metrics: snapshot(1, time.Now())}, "0.0.1")
	resp.Body.Close()
	if resp.StatusCode != http.StatusUpgradeRequired {
		t.Errorf("/api/data with bad version: status = %d, want 426", resp.StatusCode)
	}
}

func TestRegister_NewAndExisting(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/register",
		models.RegisterRequest{DeviceUID: "aa:bb:cc:dd:ee:ff", DeviceName: "pi"},
		models.ProtocolVersion)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("first register: status = %d, want 201", resp.StatusCode)
	}
	var first models.RegisterResponse
	json.NewDecoder(resp.Body).Decode(&first)
	resp.Body.Close()

	resp = postJSON(t, srv.URL+"/api/register",
		models.RegisterRequest{DeviceUID: "aa:bb:cc:dd:ee:ff", DeviceName: "pi"},
		models.ProtocolVersion)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("second register: status = %d, want 200", resp.StatusCode)
	}
	var second models.RegisterResponse
	json.NewDecoder(resp.Body).Decode(&second)
	resp.Body.Close()

	if first.DeviceID != second.DeviceID {
		t.Errorf("device ids differ: %d vs %d", first.DeviceID, second.DeviceID)
	}
}

func TestRegister_MissingUID(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/register",
		models.RegisterRequest{DeviceName: "pi"}, models.ProtocolVersion)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestData_PersistsAndServesReads(t *testing.T) {
	srv, _ := newTestServer(t)
	deviceID := registerDevice(t, srv, "aa:bb:cc:dd:ee:ff")

	base := time.Now().UTC().Truncate(time.Second)
	for i := 0; i < 3; i++ {
		resp := postJSON(t, srv.URL+"/api/data",
			models.DataRequest{DeviceID: deviceID, Metrics: snapshot(float64(i), base.Add(time.Duration(i)*time.Minute))},
			models.ProtocolVersion)
		resp.Body.Close()
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("data %d: status = %d, want 201", i, resp.StatusCode)
		}
	}

	// History: newest first.
	resp, err := http.Get(srv.URL + "/api/history/" + itoa(deviceID))
	if err != nil {
		t.Fatal(err)
	}
	var history []store.HistoryPoint
	json.NewDecoder(resp.Body).Decode(&history)
	resp.Body.Close()
	if len(history) != 3 {
		t.Fatalf("history length = %d, want 3", len(history))
	}
	for i, want := range []float64{2, 1, 0} {
		if history[i].CPUUsage != want {
			t.Errorf("history[%d].cpu = %v, want %v", i, history[i].CPUUsage, want)
		}
	}

	// Latest: the last submitted snapshot, with its network stats.
	resp, err = http.Get(srv.URL + "/api/latest/" + itoa(deviceID))
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("latest status = %d", resp.StatusCode)
	}
	var latestStat store.LatestStat
	json.NewDecoder(resp.Body).Decode(&latestStat)
	resp.Body.Close()
	if latestStat.CPUUsage != 2 {
		t.Errorf("latest cpu = %v, want 2", latestStat.CPUUsage)
	}
	if len(latestStat.NetworkStats) != 1 {
		t.Errorf("latest network stats = %d, want 1", len(latestStat.NetworkStats))
	}

	// Devices list includes ours.
	resp, err = http.Get(srv.URL + "/api/devices")
	if err != nil {
		t.Fatal(err)
	}
	var devices []store.Device
	json.NewDecoder(resp.Body).Decode(&devices)
	resp.Body.Close()
	if len(devices) != 1 || devices[0].ID != deviceID {
		t.Errorf("devices = %+v", devices)
	}
}

func TestData_UnknownDevice(t *testing.T) {
	srv, st := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/data",
		models.DataRequest{DeviceID: 999, Metrics: snapshot(1, time.Now())},
		models.ProtocolVersion)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}

	// No stats row may exist for the rejected submission.
	devices, _ := st.Devices()
	if len(devices) != 0 {
		t.Errorf("device auto-registered: %+v", devices)
	}
}

func TestData_MissingFields(t *testing.T) {
	srv, _ := newTestServer(t)
	deviceID := registerDevice(t, srv, "aa:bb")

	resp := postJSON(t, srv.URL+"/api/data",
		models.DataRequest{DeviceID: deviceID}, models.ProtocolVersion)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing metrics: status = %d, want 400", resp.StatusCode)
	}

	resp = postJSON(t, srv.URL+"/api/data",
		models.DataRequest{Metrics: snapshot(1, time.Now())}, models.ProtocolVersion)
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing device_id: status = %d, want 400", resp.StatusCode)
	}
}

func TestLatest_NoData(t *testing.T) {
	srv, _ := newTestServer(t)
	deviceID := registerDevice(t, srv, "aa:bb")

	resp, err := http.Get(srv.URL + "/api/latest/" + itoa(deviceID))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestVersionEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/version")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var body map[string]string
	json.NewDecoder(resp.Body).Decode(&body)
	if body["version"] != models.ProtocolVersion {
		t.Errorf("version = %q, want %q", body["version"], models.ProtocolVersion)
	}
}

func TestMetrics_EndpointLabelIsRouteTemplate(t *testing.T) {
	srv, _ := newTestServer(t)

	for _, id := range []string{"1", "2", "3"} {
		resp, err := http.Get(srv.URL + "/api/history/" + id)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
	}

	families, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatal(err)
	}

	const template = "/api/history/{device_id:[0-9]+}"
	sawTemplate := false
	for _, mf := range families {
		if mf.GetName() != "http_requests_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			for _, label := range m.GetLabel() {
				if label.GetName() != "endpoint" {
					continue
				}
				value := label.GetValue()
				if value == template {
					sawTemplate = true
				} else if strings.HasPrefix(value, "/api/history/") {
					// One label value per route, never per device.
					t.Errorf("per-device endpoint label %q", value)
				}
			}
		}
	}
	if !sawTemplate {
		t.Errorf("no %q endpoint label recorded", template)
	}
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}

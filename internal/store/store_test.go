package store

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/pistat/pistat/internal/models"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "stats.db"), zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testSnapshot() *models.MetricSnapshot {
	speed := 1000
	mtu := 1500
	return &models.MetricSnapshot{
		Timestamp: time.Now().UTC(),
		CPU:       models.CPUStats{UsagePercent: 23.5, Frequency: "1500.00 MHz"},
		Memory:    models.MemoryStats{Total: 3.71, Used: 1.2, Available: 2.4, Percentage: 32.3},
		Disk:      models.DiskStats{Total: 29.5, Used: 11.2, Free: 18.3, Percentage: 37.97},
		Network: models.NetworkStats{
			Total: models.IOCounters{BytesSent: 1000, BytesRecv: 2000, PacketsSent: 10, PacketsRecv: 20},
			Interfaces: map[string]models.InterfaceStats{
				"eth0": {
					BytesSent:   900,
					BytesRecv:   1800,
					PacketsSent: 9,
					PacketsRecv: 18,
					Speed:       &speed,
					MTU:         &mtu,
					IsUp:        true,
					Addresses:   []string{"192.168.1.50"},
				},
				"wlan0": {BytesSent: 100, BytesRecv: 200, PacketsSent: 1, PacketsRecv: 2, IsUp: true},
			},
		},
		TemperatureC: 48.3,
		UptimeSecs:   86400,
	}
}

func TestRegisterDevice_Idempotent(t *testing.T) {
	s := openTestStore(t)
	now := time.Now().UTC()

	id1, created, err := s.RegisterDevice("aa:bb:cc:dd:ee:ff", "pi4", "pi4", "192.168.1.50", now)
	if err != nil {
		t.Fatal(err)
	}
	if !created {
		t.Error("first registration should create")
	}

	id2, created, err := s.RegisterDevice("aa:bb:cc:dd:ee:ff", "pi4-renamed", "pi4", "192.168.1.51", now.Add(time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if created {
		t.Error("second registration must not create a new row")
	}
	if id1 != id2 {
		t.Errorf("ids differ across registrations: %d vs %d", id1, id2)
	}

	devices, err := s.Devices()
	if err != nil {
		t.Fatal(err)
	}
	if len(devices) != 1 {
		t.Fatalf("got %d devices, want 1", len(devices))
	}
	if devices[0].DeviceName != "pi4-renamed" {
		t.Errorf("name = %q, want refreshed value", devices[0].DeviceName)
	}
	if devices[0].IPAddress != "192.168.1.51" {
		t.Errorf("ip = %q, want refreshed value", devices[0].IPAddress)
	}
}

func TestSaveStats_PersistsEverything(t *testing.T) {
	s := openTestStore(t)
	now := time.Now().UTC()

	deviceID, _, err := s.RegisterDevice("aa:bb", "pi", "pi", "10.0.0.2", now)
	if err != nil {
		t.Fatal(err)
	}

	statID, err := s.SaveStats(deviceID, testSnapshot(), now.Add(time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if statID == 0 {
		t.Fatal("stat id is zero")
	}

	latest, err := s.Latest(deviceID)
	if err != nil {
		t.Fatal(err)
	}
	if latest == nil {
		t.Fatal("no latest stat")
	}
	if latest.CPUUsage != 23.5 {
		t.Errorf("cpu = %v", latest.CPUUsage)
	}
	if len(latest.NetworkStats) != 2 {
		t.Errorf("got %d network stats, want 2", len(latest.NetworkStats))
	}

	// last_seen must have been refreshed in the same write.
	devices, _ := s.Devices()
	if !devices[0].LastSeen.After(now) {
		t.Errorf("last_seen = %v, not refreshed", devices[0].LastSeen)
	}
}

func TestSaveStats_UnknownDevice(t *testing.T) {
	s := openTestStore(t)

	_, err := s.SaveStats(999, testSnapshot(), time.Now().UTC())
	if !errors.Is(err, ErrUnknownDevice) {
		t.Fatalf("err = %v, want ErrUnknownDevice", err)
	}

	// Nothing may have been persisted for the rejected submission.
	var count int64
	if err := s.db.Model(&Stat{}).Count(&count).Error; err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("stat rows = %d after rejected write, want 0", count)
	}
}

func TestSaveStats_RollsBackOnPartialFailure(t *testing.T) {
	s := openTestStore(t)
	now := time.Now().UTC()

	deviceID, _, err := s.RegisterDevice("aa:bb", "pi", "pi", "10.0.0.2", now)
	if err != nil {
		t.Fatal(err)
	}

	// Sabotage the network stat insert so the write fails mid-transaction.
	if err := s.db.Migrator().DropTable(&NetworkStat{}); err != nil {
		t.Fatal(err)
	}

	if _, err := s.SaveStats(deviceID, testSnapshot(), now.Add(time.Minute)); err == nil {
		t.Fatal("expected error from failed network stat insert")
	}

	// The stat row written earlier in the same transaction must be gone.
	var count int64
	if err := s.db.Model(&Stat{}).Count(&count).Error; err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("stat rows = %d after failed write, want 0", count)
	}

	// last_seen is part of the same write and must not have moved either.
	devices, err := s.Devices()
	if err != nil {
		t.Fatal(err)
	}
	if devices[0].LastSeen.After(now) {
		t.Errorf("last_seen = %v, refreshed despite rollback", devices[0].LastSeen)
	}
}

func TestHistory_NewestFirstAndBounded(t *testing.T) {
	s := openTestStore(t)
	now := time.Now().UTC()

	deviceID, _, err := s.RegisterDevice("aa:bb", "pi", "pi", "10.0.0.2", now)
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 5; i++ {
		snap := testSnapshot()
		snap.Timestamp = now.Add(time.Duration(i) * time.Minute)
		snap.CPU.UsagePercent = float64(i)
		if _, err := s.SaveStats(deviceID, snap, now); err != nil {
			t.Fatal(err)
		}
	}

	history, err := s.History(deviceID, 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 3 {
		t.Fatalf("got %d points, want 3", len(history))
	}
	// Newest first: cpu values 4, 3, 2.
	for i, want := range []float64{4, 3, 2} {
		if history[i].CPUUsage != want {
			t.Errorf("point %d: cpu = %v, want %v", i, history[i].CPUUsage, want)
		}
	}
}

func TestLatest_NoData(t *testing.T) {
	s := openTestStore(t)
	now := time.Now().UTC()

	deviceID, _, err := s.RegisterDevice("aa:bb", "pi", "pi", "10.0.0.2", now)
	if err != nil {
		t.Fatal(err)
	}

	latest, err := s.Latest(deviceID)
	if err != nil {
		t.Fatal(err)
	}
	if latest != nil {
		t.Error("expected nil for device with no stats")
	}
}

func TestPruneStats_RemovesOnlyAged(t *testing.T) {
	s := openTestStore(t)
	now := time.Now().UTC()

	deviceID, _, err := s.RegisterDevice("aa:bb", "pi", "pi", "10.0.0.2", now)
	if err != nil {
		t.Fatal(err)
	}

	old := testSnapshot()
	old.Timestamp = now.Add(-48 * time.Hour)
	if _, err := s.SaveStats(deviceID, old, now); err != nil {
		t.Fatal(err)
	}
	fresh := testSnapshot()
	fresh.Timestamp = now
	if _, err := s.SaveStats(deviceID, fresh, now); err != nil {
		t.Fatal(err)
	}

	removed, err := s.PruneStats(now.Add(-24 * time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}

	history, _ := s.History(deviceID, 100)
	if len(history) != 1 {
		t.Fatalf("got %d points after prune, want 1", len(history))
	}

	// Network stats of the pruned stat must be gone too.
	var orphans int64
	s.db.Model(&NetworkStat{}).Count(&orphans)
	if orphans != 2 {
		t.Errorf("network stat rows = %d, want 2 (only the fresh stat's)", orphans)
	}
}

func TestPruneDevices_CascadesAndSparesActive(t *testing.T) {
	s := openTestStore(t)
	now := time.Now().UTC()

	staleID, _, err := s.RegisterDevice("stale-uid", "old-pi", "old-pi", "10.0.0.3", now.Add(-100*24*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.SaveStats(staleID, testSnapshot(), now.Add(-100*24*time.Hour)); err != nil {
		t.Fatal(err)
	}

	activeID, _, err := s.RegisterDevice("active-uid", "pi", "pi", "10.0.0.2", now)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.SaveStats(activeID, testSnapshot(), now); err != nil {
		t.Fatal(err)
	}

	removed, err := s.PruneDevices(now.Add(-90 * 24 * time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if removed != 1 {
		t.Errorf("removed = %d devices, want 1", removed)
	}

	devices, _ := s.Devices()
	if len(devices) != 1 || devices[0].DeviceUID != "active-uid" {
		t.Fatalf("surviving devices = %+v, want only active-uid", devices)
	}

	// All of the stale device's data must be gone.
	var stats int64
	s.db.Model(&Stat{}).Where("device_id = ?", staleID).Count(&stats)
	if stats != 0 {
		t.Errorf("stale device still has %d stats", stats)
	}

	// The active device's data must be untouched.
	latest, err := s.Latest(activeID)
	if err != nil {
		t.Fatal(err)
	}
	if latest == nil {
		t.Error("active device lost its stats")
	}
}

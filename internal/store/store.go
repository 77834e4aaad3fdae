package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/pistat/pistat/internal/models"
)

// ErrUnknownDevice indicates a device id that no Device row matches.
var ErrUnknownDevice = errors.New("device not registered")

// Store wraps the SQLite database holding devices and stats.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

// Open opens (creating if needed) the stats database at the given path
// and migrates the schema.
func Open(path string, log *zap.Logger) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("opening stats database: %w", err)
	}
	if err := db.AutoMigrate(&Device{}, &Stat{}, &NetworkStat{}); err != nil {
		return nil, fmt.Errorf("migrating schema: %w", err)
	}
	return &Store{db: db, logger: log}, nil
}

// RegisterDevice upserts a device by its unique UID. Re-registering an
// existing UID refreshes name, hostname, address and last_seen; it
// never creates a second row. Returns the device id and whether the
// row was newly created.
func (s *Store) RegisterDevice(uid, name, hostname, ipAddress string, now time.Time) (int64, bool, error) {
	var deviceID int64
	var created bool

	err := s.db.Transaction(func(tx *gorm.DB) error {
		var device Device
		err := tx.Where("device_uid = ?", uid).First(&device).Error
		switch {
		case err == nil:
			device.DeviceName = name
			device.Hostname = hostname
			device.IPAddress = ipAddress
			device.LastSeen = now
			if err := tx.Save(&device).Error; err != nil {
				return err
			}
			deviceID = device.ID
		case errors.Is(err, gorm.ErrRecordNotFound):
			device = Device{
				DeviceUID:  uid,
				DeviceName: name,
				Hostname:   hostname,
				IPAddress:  ipAddress,
				LastSeen:   now,
			}
			if err := tx.Create(&device).Error; err != nil {
				return err
			}
			deviceID = device.ID
			created = true
		default:
			return err
		}
		return nil
	})
	if err != nil {
		return 0, false, fmt.Errorf("registering device: %w", err)
	}
	if created {
		s.logger.Info("New device registered",
			zap.Int64("device_id", deviceID),
			zap.String("device_uid", uid))
	}
	return deviceID, created, nil
}

// SaveStats persists one snapshot for a device: the stat row, its
// network stat rows, and the device's last_seen refresh, all inside a
// single transaction. Either everything lands or nothing does.
// Returns ErrUnknownDevice when no such device exists.
func (s *Store) SaveStats(deviceID int64, snapshot *models.MetricSnapshot, now time.Time) (int64, error) {
	var statID int64

	err := s.db.Transaction(func(tx *gorm.DB) error {
		var device Device
		if err := tx.First(&device, deviceID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrUnknownDevice
			}
			return err
		}

		timestamp := snapshot.Timestamp
		if timestamp.IsZero() {
			timestamp = now
		}

		stat := Stat{
			DeviceID:         deviceID,
			Timestamp:        timestamp,
			CPUUsage:         snapshot.CPU.UsagePercent,
			CPUFrequency:     snapshot.CPU.Frequency,
			MemoryUsed:       snapshot.Memory.Used,
			MemoryTotal:      snapshot.Memory.Total,
			MemoryPercentage: snapshot.Memory.Percentage,
			DiskUsed:         snapshot.Disk.Used,
			DiskTotal:        snapshot.Disk.Total,
			DiskPercentage:   snapshot.Disk.Percentage,
			Temperature:      snapshot.TemperatureC,
			Uptime:           snapshot.UptimeSecs,
		}
		if err := tx.Create(&stat).Error; err != nil {
			return err
		}
		statID = stat.ID

		for name, iface := range snapshot.Network.Interfaces {
			addresses, err := json.Marshal(iface.Addresses)
			if err != nil {
				return err
			}
			row := NetworkStat{
				StatID:        stat.ID,
				InterfaceName: name,
				BytesSent:     iface.BytesSent,
				BytesRecv:     iface.BytesRecv,
				PacketsSent:   iface.PacketsSent,
				PacketsRecv:   iface.PacketsRecv,
				Speed:         iface.Speed,
				MTU:           iface.MTU,
				IsUp:          iface.IsUp,
				Addresses:     string(addresses),
			}
			if err := tx.Create(&row).Error; err != nil {
				return err
			}
		}

		return tx.Model(&Device{}).Where("id = ?", deviceID).
			Update("last_seen", now).Error
	})
	if err != nil {
		if errors.Is(err, ErrUnknownDevice) {
			return 0, err
		}
		return 0, fmt.Errorf("saving stats: %w", err)
	}
	return statID, nil
}

// Devices returns all registered devices, most recently seen first.
func (s *Store) Devices() ([]Device, error) {
	var devices []Device
	if err := s.db.Order("last_seen DESC").Find(&devices).Error; err != nil {
		return nil, fmt.Errorf("listing devices: %w", err)
	}
	return devices, nil
}

// History returns up to limit historical points for a device, newest
// first.
func (s *Store) History(deviceID int64, limit int) ([]HistoryPoint, error) {
	var points []HistoryPoint
	err := s.db.Model(&Stat{}).
		Select("timestamp, cpu_usage, memory_percentage, disk_percentage, temperature").
		Where("device_id = ?", deviceID).
		Order("timestamp DESC").
		Limit(limit).
		Find(&points).Error
	if err != nil {
		return nil, fmt.Errorf("reading history: %w", err)
	}
	return points, nil
}

// Latest returns the newest stat for a device merged with the device
// record and its network stats, or nil when the device has no stats.
func (s *Store) Latest(deviceID int64) (*LatestStat, error) {
	var stat Stat
	err := s.db.Where("device_id = ?", deviceID).
		Order("timestamp DESC").
		First(&stat).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading latest stat: %w", err)
	}

	var device Device
	if err := s.db.First(&device, deviceID).Error; err != nil {
		return nil, fmt.Errorf("reading device: %w", err)
	}

	var networkStats []NetworkStat
	if err := s.db.Where("stat_id = ?", stat.ID).Find(&networkStats).Error; err != nil {
		return nil, fmt.Errorf("reading network stats: %w", err)
	}

	return &LatestStat{
		Stat:         stat,
		DeviceName:   device.DeviceName,
		Hostname:     device.Hostname,
		IPAddress:    device.IPAddress,
		NetworkStats: networkStats,
	}, nil
}

// PruneStats deletes stats (and their network stats) older than the
// cutoff. Runs in one transaction; returns the number of stat rows
// removed.
func (s *Store) PruneStats(cutoff time.Time) (int64, error) {
	var removed int64
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where(
			"stat_id IN (?)",
			tx.Model(&Stat{}).Select("id").Where("timestamp < ?", cutoff),
		).Delete(&NetworkStat{}).Error; err != nil {
			return err
		}
		result := tx.Where("timestamp < ?", cutoff).Delete(&Stat{})
		if result.Error != nil {
			return result.Error
		}
		removed = result.RowsAffected
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("pruning stats: %w", err)
	}
	return removed, nil
}

// PruneDevices deletes devices whose last_seen is older than the
// cutoff, cascading to all their stats and network stats. Runs in one
// transaction; returns the number of devices removed.
func (s *Store) PruneDevices(cutoff time.Time) (int64, error) {
	var removed int64
	err := s.db.Transaction(func(tx *gorm.DB) error {
		stale := tx.Model(&Device{}).Select("id").Where("last_seen < ?", cutoff)

		if err := tx.Where(
			"stat_id IN (?)",
			tx.Model(&Stat{}).Select("id").Where("device_id IN (?)", stale),
		).Delete(&NetworkStat{}).Error; err != nil {
			return err
		}
		if err := tx.Where("device_id IN (?)", stale).Delete(&Stat{}).Error; err != nil {
			return err
		}
		result := tx.Where("last_seen < ?", cutoff).Delete(&Device{})
		if result.Error != nil {
			return result.Error
		}
		removed = result.RowsAffected
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("pruning devices: %w", err)
	}
	return removed, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

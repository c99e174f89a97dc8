package usb

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/disk"

	"github.com/sentinair/sentinair/pkg/config"
	"github.com/sentinair/sentinair/pkg/events"
	"github.com/sentinair/sentinair/pkg/monitors/base"
)

// Device describes one removable storage device as seen at poll time.
type Device struct {
	DevicePath string `json:"device_path"`
	Mountpoint string `json:"mountpoint"`
	Fstype     string `json:"fstype"`
	TotalBytes uint64 `json:"total_bytes"`
}

// Signature uniquely identifies a device across polls. Mountpoints can
// move between insertions, so the signature is built from the device
// node, filesystem, and capacity.
func (d Device) Signature() string {
	return fmt.Sprintf("%s-%s-%d", d.DevicePath, d.Fstype, d.TotalBytes)
}

// Name returns a short human-readable device name.
func (d Device) Name() string {
	if i := strings.LastIndex(d.DevicePath, "/"); i >= 0 {
		return d.DevicePath[i+1:]
	}
	if d.DevicePath != "" {
		return d.DevicePath
	}
	return "Unknown USB Device"
}

// listDevices enumerates currently connected removable-storage devices.
// Replaceable in tests.
type listDevices func() []Device

// Monitor polls connected removable-storage devices on a fixed interval
// and diffs the device-signature set against the previously known set to
// derive insert and remove events. Suspicious devices are flagged by
// simple heuristics on capacity, filesystem, and naming.
type Monitor struct {
	*base.BaseMonitor
	cfg   config.USBConfig
	list  listDevices
	known map[string]Device
}

// New creates a USB monitor backed by gopsutil partition enumeration.
func New(cfg config.USBConfig, logger zerolog.Logger) *Monitor {
	m := &Monitor{
		BaseMonitor: base.NewBaseMonitor("usb", logger),
		cfg:         cfg,
	}
	m.list = m.systemDevices
	return m
}

// Start begins polling. The currently connected devices become the
// initial known set so a restart does not replay every attached device
// as an insertion.
func (m *Monitor) Start() error {
	stopCh, ok := m.BeginRun()
	if !ok {
		return nil
	}

	m.known = make(map[string]Device)
	for _, d := range m.list() {
		m.known[d.Signature()] = d
	}
	m.Logger().Info().Int("devices", len(m.known)).Msg("USB device monitoring started.")

	interval := m.cfg.PollInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}

	m.Go(func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				m.poll()
			case <-stopCh:
				return
			}
		}
	})
	return nil
}

// Stop halts polling.
func (m *Monitor) Stop() {
	if m.EndRun() {
		m.Logger().Info().Msg("USB device monitoring stopped.")
	}
}

// ConnectedDevices returns the devices seen at the most recent poll.
func (m *Monitor) ConnectedDevices() []Device {
	devices := m.list()
	out := make([]Device, len(devices))
	copy(out, devices)
	return out
}

// poll diffs the current device set against the known set, emitting one
// event per inserted or removed device.
func (m *Monitor) poll() {
	current := make(map[string]Device)
	for _, d := range m.list() {
		current[d.Signature()] = d
	}

	for sig, dev := range current {
		if _, ok := m.known[sig]; !ok {
			m.emitDeviceEvent("insert", dev)
		}
	}
	for sig, dev := range m.known {
		if _, ok := current[sig]; !ok {
			m.emitDeviceEvent("remove", dev)
		}
	}

	m.known = current
	m.UpdateMetrics("known_devices", len(current))
}

func (m *Monitor) emitDeviceEvent(eventType string, dev Device) {
	payload := map[string]any{
		"event_type":    eventType,
		"device_path":   dev.DevicePath,
		"device_name":   dev.Name(),
		"mountpoint":    dev.Mountpoint,
		"fstype":        dev.Fstype,
		"total_bytes":   dev.TotalBytes,
		"vendor_id":     "unknown",
		"product_id":    "unknown",
		"is_suspicious": IsSuspicious(dev),
	}

	m.Logger().Info().
		Str("event", eventType).
		Str("device", dev.Name()).
		Bool("suspicious", IsSuspicious(dev)).
		Msg("USB device change detected.")

	m.Emit(events.New(events.EventUSB, payload))
}

// systemDevices enumerates removable partitions via gopsutil. Partition
// metadata failures for one device are skipped without aborting the scan.
func (m *Monitor) systemDevices() []Device {
	partitions, err := disk.Partitions(false)
	if err != nil {
		m.Logger().Warn().Err(err).Msg("Failed to enumerate disk partitions.")
		return nil
	}

	var devices []Device
	for _, p := range partitions {
		if !isRemovable(p) {
			continue
		}
		dev := Device{
			DevicePath: p.Device,
			Mountpoint: p.Mountpoint,
			Fstype:     p.Fstype,
		}
		if usage, err := disk.Usage(p.Mountpoint); err == nil {
			dev.TotalBytes = usage.Total
		}
		devices = append(devices, dev)
	}
	return devices
}

func isRemovable(p disk.PartitionStat) bool {
	for _, opt := range p.Opts {
		if strings.Contains(opt, "removable") {
			return true
		}
	}
	dev := strings.ToLower(p.Device)
	mount := p.Mountpoint
	return strings.Contains(dev, "usb") ||
		strings.HasPrefix(mount, "/media/") ||
		strings.HasPrefix(mount, "/mnt/") ||
		strings.HasPrefix(mount, "/run/media/")
}

// Suspicion heuristics: implausible capacity, unknown filesystem, or
// naming associated with device-impersonation tooling.
const (
	minPlausibleBytes = 1 << 20 // 1MB
	maxPlausibleBytes = 1 << 40 // 1TB
)

var suspiciousNameFragments = []string{"hidden", "stealth", "badusb"}

// IsSuspicious reports whether a device trips any suspicion heuristic.
func IsSuspicious(d Device) bool {
	if d.TotalBytes < minPlausibleBytes || d.TotalBytes > maxPlausibleBytes {
		return true
	}
	fstype := strings.ToLower(d.Fstype)
	if fstype == "" || fstype == "unknown" {
		return true
	}
	path := strings.ToLower(d.DevicePath)
	for _, fragment := range suspiciousNameFragments {
		if strings.Contains(path, fragment) {
			return true
		}
	}
	return false
}

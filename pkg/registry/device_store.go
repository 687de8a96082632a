package registry

import (
	"sort"

	"github.com/iotman/webui/pkg/models"
)

// Filter narrows List results. Zero value matches every device.
type Filter struct {
	Status    models.ConnectivityStatus
	DeviceIDs []string
}

// Get retrieves a copy of a device by ID.
func (r *DeviceRegistry) Get(deviceID string) (*models.Device, error) {
	r.mu.RLock()
	entry, ok := r.devices[deviceID]
	r.mu.RUnlock()

	if !ok {
		return nil, ErrNotFound
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	device := cloneDevice(&entry.device)

	return &device, nil
}

// List returns copies of all devices matching the filter, sorted by ID.
func (r *DeviceRegistry) List(filter Filter) []models.Device {
	entries := r.collectEntries()

	var wanted map[string]struct{}
	if len(filter.DeviceIDs) > 0 {
		wanted = make(map[string]struct{}, len(filter.DeviceIDs))
		for _, id := range filter.DeviceIDs {
			wanted[id] = struct{}{}
		}
	}

	devices := make([]models.Device, 0, len(entries))

	for _, entry := range entries {
		entry.mu.Lock()

		if wanted != nil {
			if _, ok := wanted[entry.device.DeviceID]; !ok {
				entry.mu.Unlock()
				continue
			}
		}

		if filter.Status != "" && entry.device.Status != filter.Status {
			entry.mu.Unlock()
			continue
		}

		devices = append(devices, cloneDevice(&entry.device))
		entry.mu.Unlock()
	}

	sort.Slice(devices, func(i, j int) bool {
		return devices[i].DeviceID < devices[j].DeviceID
	})

	return devices
}

// SnapshotScope materializes the current state of every device in scope,
// restricted to the scope's fields. This feeds initial session snapshots
// and forced resnapshots.
func (r *DeviceRegistry) SnapshotScope(scope models.CompiledScope) models.Snapshot {
	snapshot := models.Snapshot{Devices: make(map[string]models.DeviceSnapshot)}

	for _, entry := range r.collectEntries() {
		entry.mu.Lock()

		if !scope.MatchesDevice(entry.device.DeviceID) {
			entry.mu.Unlock()
			continue
		}

		attrs := make(map[string]models.AttributeValue, len(entry.device.Attributes))

		for field, value := range entry.device.Attributes {
			if scope.MatchesField(field) {
				attrs[field] = value
			}
		}

		snapshot.Devices[entry.device.DeviceID] = models.DeviceSnapshot{
			DeviceID:   entry.device.DeviceID,
			Status:     entry.device.Status,
			Attributes: attrs,
		}

		entry.mu.Unlock()
	}

	return snapshot
}

// PreRegister creates a device with a declared capability set before any
// telemetry contact. The device starts offline until it first reports.
func (r *DeviceRegistry) PreRegister(deviceID string, capabilities []models.CapabilityField) error {
	if deviceID == "" {
		return &ValidationError{Reason: "missing device id"}
	}

	declared := make(map[string]models.FieldType, len(capabilities))

	for _, c := range capabilities {
		if c.Name == "" {
			return &ValidationError{DeviceID: deviceID, Reason: "capability with empty field name"}
		}

		switch c.Type {
		case models.FieldTypeNumber, models.FieldTypeString, models.FieldTypeBool:
		default:
			return &ValidationError{DeviceID: deviceID, Field: c.Name, Reason: "unknown capability type"}
		}

		declared[c.Name] = c.Type
	}

	r.mu.Lock()

	if _, ok := r.devices[deviceID]; ok {
		r.mu.Unlock()
		return errAlreadyRegistered
	}

	r.devices[deviceID] = &deviceEntry{
		device: models.Device{
			DeviceID:      deviceID,
			Capabilities:  append([]models.CapabilityField(nil), capabilities...),
			Attributes:    make(map[string]models.AttributeValue),
			Status:        models.StatusOffline,
			FirstSeen:     r.now(),
			Preregistered: true,
		},
		declared: declared,
	}
	r.mu.Unlock()

	r.logger.Info().
		Str("device_id", deviceID).
		Int("capabilities", len(capabilities)).
		Msg("Device preregistered")

	r.emit(models.ChangeEvent{
		Kind:     models.ChangeStatus,
		DeviceID: deviceID,
		Status:   models.StatusOffline,
	})

	return nil
}

// Deregister removes a device. Devices are never deleted implicitly; this
// is the only removal path.
func (r *DeviceRegistry) Deregister(deviceID string) error {
	r.mu.Lock()

	if _, ok := r.devices[deviceID]; !ok {
		r.mu.Unlock()
		return ErrNotFound
	}

	delete(r.devices, deviceID)
	r.mu.Unlock()

	r.logger.Info().Str("device_id", deviceID).Msg("Device deregistered")

	r.emit(models.ChangeEvent{
		Kind:     models.ChangeRemoved,
		DeviceID: deviceID,
	})

	return nil
}

// Counts returns the number of known devices per connectivity status.
func (r *DeviceRegistry) Counts() map[models.ConnectivityStatus]int {
	counts := make(map[models.ConnectivityStatus]int, 3)

	for _, entry := range r.collectEntries() {
		entry.mu.Lock()
		counts[entry.device.Status]++
		entry.mu.Unlock()
	}

	return counts
}

// collectEntries snapshots the entry pointers so per-device locks are never
// taken while the registry map lock is held.
func (r *DeviceRegistry) collectEntries() []*deviceEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := make([]*deviceEntry, 0, len(r.devices))
	for _, entry := range r.devices {
		entries = append(entries, entry)
	}

	return entries
}

func cloneDevice(d *models.Device) models.Device {
	out := *d

	out.Attributes = make(map[string]models.AttributeValue, len(d.Attributes))
	for k, v := range d.Attributes {
		out.Attributes[k] = v
	}

	if d.Capabilities != nil {
		out.Capabilities = append([]models.CapabilityField(nil), d.Capabilities...)
	}

	return out
}

package models

// AttributeUpdate is one inbound telemetry message: a single field of a
// single device observed at a source timestamp (unix milliseconds).
// Updates are transient; they are consumed once applied to the registry.
type AttributeUpdate struct {
	DeviceID  string      `json:"device_id"`
	Field     string      `json:"field"`
	Value     interface{} `json:"value"`
	Timestamp int64       `json:"timestamp"`
}

// ChangeKind distinguishes attribute changes from connectivity transitions.
type ChangeKind string

const (
	ChangeAttribute ChangeKind = "attribute"
	ChangeStatus    ChangeKind = "status"
	ChangeRemoved   ChangeKind = "removed"
)

// ChangeEvent is what the registry emits after a mutation is applied. For
// one device, events are emitted in the exact order the mutations were
// applied; events for distinct devices may interleave.
type ChangeEvent struct {
	Kind      ChangeKind         `json:"kind"`
	DeviceID  string             `json:"device_id"`
	Field     string             `json:"field,omitempty"`
	Value     interface{}        `json:"value,omitempty"`
	Timestamp int64              `json:"timestamp,omitempty"`
	Status    ConnectivityStatus `json:"status,omitempty"`
}

// Patch is an incremental update delivered to a UI session.
type Patch struct {
	DeviceID string      `json:"device_id"`
	Field    string      `json:"field"`
	Value    interface{} `json:"value"`
}

// DeviceSnapshot is one device's materialized state inside a session snapshot.
type DeviceSnapshot struct {
	DeviceID   string                    `json:"device_id"`
	Status     ConnectivityStatus        `json:"status"`
	Attributes map[string]AttributeValue `json:"attributes"`
}

// Snapshot is a session's full materialized view of its subscribed scope.
type Snapshot struct {
	Devices map[string]DeviceSnapshot `json:"devices"`
}

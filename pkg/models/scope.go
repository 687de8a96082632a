package models

// Scope names the devices and fields a UI session is interested in. An
// empty device list means every device (wildcard); an empty field list
// means every field.
type Scope struct {
	Devices []string `json:"devices,omitempty"`
	Fields  []string `json:"fields,omitempty"`
}

// CompiledScope is a Scope turned into set lookups for the notify path.
type CompiledScope struct {
	devices map[string]struct{}
	fields  map[string]struct{}
}

// Compile builds the lookup sets once so matching stays cheap per event.
func (s Scope) Compile() CompiledScope {
	c := CompiledScope{}

	if len(s.Devices) > 0 {
		c.devices = make(map[string]struct{}, len(s.Devices))
		for _, id := range s.Devices {
			if id == "*" {
				c.devices = nil
				break
			}

			c.devices[id] = struct{}{}
		}
	}

	if len(s.Fields) > 0 {
		c.fields = make(map[string]struct{}, len(s.Fields))
		for _, f := range s.Fields {
			c.fields[f] = struct{}{}
		}
	}

	return c
}

// MatchesDevice reports whether the scope covers the given device.
func (c CompiledScope) MatchesDevice(deviceID string) bool {
	if c.devices == nil {
		return true
	}

	_, ok := c.devices[deviceID]

	return ok
}

// MatchesField reports whether the scope covers the given field name.
// Status and removal events carry no field and always match.
func (c CompiledScope) MatchesField(field string) bool {
	if c.fields == nil || field == "" {
		return true
	}

	_, ok := c.fields[field]

	return ok
}

// Matches reports whether a change event intersects the scope.
func (c CompiledScope) Matches(ev ChangeEvent) bool {
	if !c.MatchesDevice(ev.DeviceID) {
		return false
	}

	if ev.Kind != ChangeAttribute {
		return true
	}

	return c.MatchesField(ev.Field)
}

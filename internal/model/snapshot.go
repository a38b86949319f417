package model

import "time"

// Snapshot is the consolidated live view of the selected farm. The sync
// engine is its single writer; everyone else gets clones.
type Snapshot struct {
	Readings    map[Metric]float64        `json:"readings"`
	Devices     []Device                  `json:"devices"`
	Rules       []Rule                    `json:"rules"`
	History     map[Metric][]HistoryPoint `json:"history"`
	LastUpdated time.Time                 `json:"lastUpdated"`

	// Stale flags that the last refresh attempt failed and the values
	// shown are the previous known-good ones.
	Stale bool `json:"stale"`
}

// Clone returns a deep copy so consumers can hold a snapshot across engine
// updates.
func (s Snapshot) Clone() Snapshot {
	out := Snapshot{
		LastUpdated: s.LastUpdated,
		Stale:       s.Stale,
	}
	if s.Readings != nil {
		out.Readings = make(map[Metric]float64, len(s.Readings))
		for k, v := range s.Readings {
			out.Readings[k] = v
		}
	}
	if s.Devices != nil {
		out.Devices = append([]Device(nil), s.Devices...)
	}
	if s.Rules != nil {
		out.Rules = append([]Rule(nil), s.Rules...)
	}
	if s.History != nil {
		out.History = make(map[Metric][]HistoryPoint, len(s.History))
		for k, pts := range s.History {
			out.History[k] = append([]HistoryPoint(nil), pts...)
		}
	}
	return out
}

// SensorDevices returns the devices classified as sensors.
func (s Snapshot) SensorDevices() []Device {
	var out []Device
	for _, d := range s.Devices {
		if d.IsSensor() {
			out = append(out, d)
		}
	}
	return out
}

// ActuatorDevices returns the devices classified as actuators.
func (s Snapshot) ActuatorDevices() []Device {
	var out []Device
	for _, d := range s.Devices {
		if !d.IsSensor() {
			out = append(out, d)
		}
	}
	return out
}

package model

import (
	"strings"
)

type (
	FarmID   int64
	DeviceID int64
	RuleID   int64
)

// Farm is created and edited elsewhere; the dashboard only references it.
type Farm struct {
	ID       FarmID `json:"id"`
	Name     string `json:"name"`
	Location string `json:"location"`
}

type DeviceType string

const (
	DevicePump              DeviceType = "PUMP"
	DeviceFan               DeviceType = "FAN"
	DeviceLight             DeviceType = "LIGHT"
	DeviceSensorTemperature DeviceType = "SENSOR_TEMPERATURE"
	DeviceSensorHumidity    DeviceType = "SENSOR_HUMIDITY"
	DeviceSensorSoil        DeviceType = "SENSOR_SOIL_MOISTURE"
	DeviceSensorLight       DeviceType = "SENSOR_LIGHT"
)

var DeviceTypes = []DeviceType{
	DevicePump, DeviceFan, DeviceLight,
	DeviceSensorTemperature, DeviceSensorHumidity, DeviceSensorSoil, DeviceSensorLight,
}

func (t DeviceType) Valid() bool {
	for _, dt := range DeviceTypes {
		if t == dt {
			return true
		}
	}
	return false
}

// IsSensor classifies by naming convention: every SENSOR_* type is a
// sensor, everything else is an actuator.
func (t DeviceType) IsSensor() bool {
	return strings.Contains(strings.ToUpper(string(t)), "SENSOR")
}

type Device struct {
	ID         DeviceID   `json:"id"`
	Name       string     `json:"name"`
	Type       DeviceType `json:"type"`
	Identifier string     `json:"deviceIdentifier"`
}

func (d Device) IsSensor() bool { return d.Type.IsSensor() }

// Metric is a recognized sensor metric. The set is closed: readings for
// anything else are dropped at merge time.
type Metric string

const (
	MetricTemperature  Metric = "temperature"
	MetricHumidity     Metric = "humidity"
	MetricSoilMoisture Metric = "soil_moisture"
	MetricLight        Metric = "light"
)

var Metrics = []Metric{MetricTemperature, MetricHumidity, MetricSoilMoisture, MetricLight}

// ParseMetric lower-cases the wire name and rejects anything outside the
// recognized set.
func ParseMetric(s string) (Metric, bool) {
	m := Metric(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Metrics {
		if m == known {
			return m, true
		}
	}
	return "", false
}

// SensorReading is the latest value for one metric. Time stays a string
// (RFC3339 from the backend); the dashboard never does arithmetic on it.
type SensorReading struct {
	MetricType string  `json:"metricType"`
	Value      float64 `json:"value"`
	Time       string  `json:"time"`
}

// HistoryPoint is one sample of a 24h window. A nil Value is a gap in the
// series and must stay nil so charts can skip-connect instead of dropping
// to zero.
type HistoryPoint struct {
	Time  string   `json:"time"`
	Value *float64 `json:"value"`
}

type Operator string

const (
	OpGreater Operator = ">"
	OpLess    Operator = "<"
	OpEqual   Operator = "="
)

var Operators = []Operator{OpGreater, OpLess, OpEqual}

// Action is both a rule consequence and a manual control command.
type Action string

const (
	ActionTurnOn  Action = "TURN_ON"
	ActionTurnOff Action = "TURN_OFF"
)

var Actions = []Action{ActionTurnOn, ActionTurnOff}

// Rule is authored here, evaluated by the backend.
type Rule struct {
	ID                RuleID   `json:"id"`
	Name              string   `json:"name"`
	ConditionMetric   Metric   `json:"conditionMetric"`
	ConditionOperator Operator `json:"conditionOperator"`
	ConditionValue    float64  `json:"conditionValue"`
	ActionType        Action   `json:"actionType"`
	SensorDeviceID    DeviceID `json:"sensorDeviceId"`
	ActuatorDeviceID  DeviceID `json:"actuatorDeviceId"`
}

// NotificationEvent arrives over the push channel. Display-only, never
// persisted.
type NotificationEvent struct {
	Message string `json:"message"`
}

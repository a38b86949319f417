package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/smartfarm/dashboard-client/internal/model"
)

// DevicePayload is the create/update body for a device.
type DevicePayload struct {
	Name       string           `json:"name"`
	Type       model.DeviceType `json:"type"`
	Identifier string           `json:"deviceIdentifier"`
}

// RulePayload is the create/update body for an automation rule. The value
// is numeric on the wire even though drafts carry it as text.
type RulePayload struct {
	Name              string         `json:"name"`
	ConditionMetric   model.Metric   `json:"conditionMetric"`
	ConditionOperator model.Operator `json:"conditionOperator"`
	ConditionValue    float64        `json:"conditionValue"`
	ActionType        model.Action   `json:"actionType"`
	SensorDeviceID    model.DeviceID `json:"sensorDeviceId"`
	ActuatorDeviceID  model.DeviceID `json:"actuatorDeviceId"`
}

func (c *Client) LatestReadings(ctx context.Context, farmID model.FarmID) ([]model.SensorReading, error) {
	var out []model.SensorReading
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/farms/%d/sensordata/latest", farmID), nil, nil, &out)
	return out, err
}

func (c *Client) History(ctx context.Context, farmID model.FarmID, metric model.Metric, rng string) ([]model.HistoryPoint, error) {
	q := url.Values{}
	q.Set("metricType", string(metric))
	q.Set("range", rng)
	var out []model.HistoryPoint
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/farms/%d/sensordata/history", farmID), q, nil, &out)
	return out, err
}

func (c *Client) ListDevices(ctx context.Context, farmID model.FarmID) ([]model.Device, error) {
	var out []model.Device
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/farms/%d/devices", farmID), nil, nil, &out)
	return out, err
}

func (c *Client) CreateDevice(ctx context.Context, farmID model.FarmID, body DevicePayload) (model.Device, error) {
	var out model.Device
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/farms/%d/devices", farmID), nil, body, &out)
	return out, err
}

func (c *Client) UpdateDevice(ctx context.Context, farmID model.FarmID, id model.DeviceID, body DevicePayload) (model.Device, error) {
	var out model.Device
	err := c.do(ctx, http.MethodPut, fmt.Sprintf("/farms/%d/devices/%d", farmID, id), nil, body, &out)
	return out, err
}

func (c *Client) DeleteDevice(ctx context.Context, farmID model.FarmID, id model.DeviceID) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/farms/%d/devices/%d", farmID, id), nil, nil, nil)
}

// Control sends a TURN_ON/TURN_OFF command to an actuator.
func (c *Client) Control(ctx context.Context, farmID model.FarmID, id model.DeviceID, command model.Action) error {
	body := struct {
		Command model.Action `json:"command"`
	}{Command: command}
	return c.do(ctx, http.MethodPost, fmt.Sprintf("/farms/%d/devices/%d/control", farmID, id), nil, body, nil)
}

func (c *Client) ListRules(ctx context.Context, farmID model.FarmID) ([]model.Rule, error) {
	var out []model.Rule
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("/farms/%d/rules", farmID), nil, nil, &out)
	return out, err
}

func (c *Client) CreateRule(ctx context.Context, farmID model.FarmID, body RulePayload) (model.Rule, error) {
	var out model.Rule
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("/farms/%d/rules", farmID), nil, body, &out)
	return out, err
}

func (c *Client) UpdateRule(ctx context.Context, farmID model.FarmID, id model.RuleID, body RulePayload) (model.Rule, error) {
	var out model.Rule
	err := c.do(ctx, http.MethodPut, fmt.Sprintf("/farms/%d/rules/%d", farmID, id), nil, body, &out)
	return out, err
}

func (c *Client) DeleteRule(ctx context.Context, farmID model.FarmID, id model.RuleID) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/farms/%d/rules/%d", farmID, id), nil, nil, nil)
}

package rules

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	z "github.com/Oudwins/zog"
	"go.uber.org/zap"

	"github.com/smartfarm/dashboard-client/internal/api"
	"github.com/smartfarm/dashboard-client/internal/model"
	"github.com/smartfarm/dashboard-client/internal/selection"
)

// Draft is an unsubmitted rule as the operator typed it. ConditionValue
// stays text until validation parses it, matching the form field it comes
// from.
type Draft struct {
	Name              string
	ConditionMetric   string
	ConditionOperator string
	ConditionValue    string
	ActionType        string
	SensorDeviceID    model.DeviceID
	ActuatorDeviceID  model.DeviceID
}

// ValidationError reports field-level problems found before any network
// call.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return fmt.Sprintf("rules: invalid draft (%s)", strings.Join(keys, ", "))
}

var draftSchema = z.Struct(z.Shape{
	"Name": z.String().Min(1, z.Message("name is required")).Required(),
	"ConditionMetric": z.String().OneOf(
		[]string{"temperature", "humidity", "soil_moisture", "light"},
		z.Message("unknown metric"),
	).Required(),
	"ConditionOperator": z.String().OneOf(
		[]string{">", "<", "="},
		z.Message("operator must be >, < or ="),
	).Required(),
	"ConditionValue": z.String().Min(1, z.Message("threshold is required")).Required(),
	"ActionType": z.String().OneOf(
		[]string{"TURN_ON", "TURN_OFF"},
		z.Message("unknown action"),
	).Required(),
})

// DeviceSource supplies the active farm's devices for class checks and
// selector options; in practice the engine snapshot.
type DeviceSource func() []model.Device

// Repository authors automation rules. It validates drafts locally (the
// backend re-validates authoritatively), submits them, and kicks a refresh
// after every successful mutation.
type Repository struct {
	api     *api.Client
	store   *selection.Store
	devices DeviceSource
	refresh func()
	log     *zap.Logger
}

func NewRepository(client *api.Client, store *selection.Store, devices DeviceSource, refresh func(), log *zap.Logger) *Repository {
	if log == nil {
		log = zap.NewNop()
	}
	if refresh == nil {
		refresh = func() {}
	}
	return &Repository{api: client, store: store, devices: devices, refresh: refresh, log: log}
}

// SensorOptions lists devices eligible as a rule's condition source.
func (r *Repository) SensorOptions() []model.Device {
	var out []model.Device
	for _, d := range r.devices() {
		if d.IsSensor() {
			out = append(out, d)
		}
	}
	return out
}

// ActuatorOptions lists devices eligible as a rule's action target.
func (r *Repository) ActuatorOptions() []model.Device {
	var out []model.Device
	for _, d := range r.devices() {
		if !d.IsSensor() {
			out = append(out, d)
		}
	}
	return out
}

func (r *Repository) List(ctx context.Context) ([]model.Rule, error) {
	farm, ok := r.store.Current()
	if !ok {
		return nil, selection.ErrNoneSelected
	}
	return r.api.ListRules(ctx, farm.ID)
}

func (r *Repository) Create(ctx context.Context, draft Draft) (model.Rule, error) {
	farm, ok := r.store.Current()
	if !ok {
		return model.Rule{}, selection.ErrNoneSelected
	}
	payload, err := r.validate(draft)
	if err != nil {
		return model.Rule{}, err
	}
	rule, err := r.api.CreateRule(ctx, farm.ID, payload)
	if err != nil {
		return model.Rule{}, err
	}
	r.log.Info("rule created", zap.String("name", rule.Name), zap.Int64("rule_id", int64(rule.ID)))
	r.refresh()
	return rule, nil
}

func (r *Repository) Update(ctx context.Context, id model.RuleID, draft Draft) (model.Rule, error) {
	farm, ok := r.store.Current()
	if !ok {
		return model.Rule{}, selection.ErrNoneSelected
	}
	payload, err := r.validate(draft)
	if err != nil {
		return model.Rule{}, err
	}
	rule, err := r.api.UpdateRule(ctx, farm.ID, id, payload)
	if err != nil {
		return model.Rule{}, err
	}
	r.log.Info("rule updated", zap.Int64("rule_id", int64(id)))
	r.refresh()
	return rule, nil
}

// Delete removes a rule. A rule whose devices were already deleted
// server-side goes through the same success/failure contract as any other;
// there is nothing special to handle client-side.
func (r *Repository) Delete(ctx context.Context, id model.RuleID) error {
	farm, ok := r.store.Current()
	if !ok {
		return selection.ErrNoneSelected
	}
	if err := r.api.DeleteRule(ctx, farm.ID, id); err != nil {
		return err
	}
	r.log.Info("rule deleted", zap.Int64("rule_id", int64(id)))
	r.refresh()
	return nil
}

// validate runs the shape schema, parses the threshold, and checks that
// the referenced devices exist on the active farm with the right class.
func (r *Repository) validate(draft Draft) (api.RulePayload, error) {
	fields := map[string]string{}

	if issues := draftSchema.Validate(&draft); issues != nil {
		for field, list := range issues {
			if strings.HasPrefix(field, "$") || len(list) == 0 {
				continue
			}
			fields[field] = list[0].Message
		}
	}

	value, err := strconv.ParseFloat(strings.TrimSpace(draft.ConditionValue), 64)
	if err != nil || math.IsNaN(value) || math.IsInf(value, 0) {
		if _, seen := fields["ConditionValue"]; !seen {
			fields["ConditionValue"] = "threshold must be a finite number"
		}
	}

	devices := r.devices()
	if sensor, ok := findDevice(devices, draft.SensorDeviceID); !ok {
		fields["SensorDeviceID"] = "sensor device not found on this farm"
	} else if !sensor.IsSensor() {
		fields["SensorDeviceID"] = "device is not a sensor"
	}
	if actuator, ok := findDevice(devices, draft.ActuatorDeviceID); !ok {
		fields["ActuatorDeviceID"] = "actuator device not found on this farm"
	} else if actuator.IsSensor() {
		fields["ActuatorDeviceID"] = "device is not an actuator"
	}

	if len(fields) > 0 {
		return api.RulePayload{}, &ValidationError{Fields: fields}
	}

	return api.RulePayload{
		Name:              strings.TrimSpace(draft.Name),
		ConditionMetric:   model.Metric(draft.ConditionMetric),
		ConditionOperator: model.Operator(draft.ConditionOperator),
		ConditionValue:    value,
		ActionType:        model.Action(draft.ActionType),
		SensorDeviceID:    draft.SensorDeviceID,
		ActuatorDeviceID:  draft.ActuatorDeviceID,
	}, nil
}

func findDevice(devices []model.Device, id model.DeviceID) (model.Device, bool) {
	for _, d := range devices {
		if d.ID == id {
			return d, true
		}
	}
	return model.Device{}, false
}

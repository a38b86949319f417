package devices

import (
	"context"
	"fmt"
	"sort"
	"strings"

	z "github.com/Oudwins/zog"
	"go.uber.org/zap"

	"github.com/smartfarm/dashboard-client/internal/api"
	"github.com/smartfarm/dashboard-client/internal/model"
	"github.com/smartfarm/dashboard-client/internal/selection"
)

// Draft is an unsubmitted device definition.
type Draft struct {
	Name       string
	Identifier string
	Type       string
}

type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return fmt.Sprintf("devices: invalid draft (%s)", strings.Join(keys, ", "))
}

var draftSchema = z.Struct(z.Shape{
	"Name":       z.String().Min(1, z.Message("name is required")).Required(),
	"Identifier": z.String().Min(1, z.Message("identifier is required")).Required(),
})

// Service mirrors the farm's device inventory: CRUD plus manual actuator
// control. Lifecycle stays server-side; mutations go straight through and
// a refresh re-reads the authoritative list.
type Service struct {
	api     *api.Client
	store   *selection.Store
	refresh func()
	log     *zap.Logger
}

func NewService(client *api.Client, store *selection.Store, refresh func(), log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	if refresh == nil {
		refresh = func() {}
	}
	return &Service{api: client, store: store, refresh: refresh, log: log}
}

func (s *Service) List(ctx context.Context) ([]model.Device, error) {
	farm, ok := s.store.Current()
	if !ok {
		return nil, selection.ErrNoneSelected
	}
	return s.api.ListDevices(ctx, farm.ID)
}

func (s *Service) Create(ctx context.Context, draft Draft) (model.Device, error) {
	farm, ok := s.store.Current()
	if !ok {
		return model.Device{}, selection.ErrNoneSelected
	}
	payload, err := validate(draft)
	if err != nil {
		return model.Device{}, err
	}
	dev, err := s.api.CreateDevice(ctx, farm.ID, payload)
	if err != nil {
		return model.Device{}, err
	}
	s.log.Info("device created", zap.String("identifier", dev.Identifier), zap.Int64("device_id", int64(dev.ID)))
	s.refresh()
	return dev, nil
}

func (s *Service) Update(ctx context.Context, id model.DeviceID, draft Draft) (model.Device, error) {
	farm, ok := s.store.Current()
	if !ok {
		return model.Device{}, selection.ErrNoneSelected
	}
	payload, err := validate(draft)
	if err != nil {
		return model.Device{}, err
	}
	dev, err := s.api.UpdateDevice(ctx, farm.ID, id, payload)
	if err != nil {
		return model.Device{}, err
	}
	s.log.Info("device updated", zap.Int64("device_id", int64(id)))
	s.refresh()
	return dev, nil
}

func (s *Service) Delete(ctx context.Context, id model.DeviceID) error {
	farm, ok := s.store.Current()
	if !ok {
		return selection.ErrNoneSelected
	}
	if err := s.api.DeleteDevice(ctx, farm.ID, id); err != nil {
		return err
	}
	s.log.Info("device deleted", zap.Int64("device_id", int64(id)))
	s.refresh()
	return nil
}

// Control forwards a manual TURN_ON/TURN_OFF command to an actuator.
func (s *Service) Control(ctx context.Context, id model.DeviceID, command model.Action) error {
	farm, ok := s.store.Current()
	if !ok {
		return selection.ErrNoneSelected
	}
	if command != model.ActionTurnOn && command != model.ActionTurnOff {
		return &ValidationError{Fields: map[string]string{"Command": "command must be TURN_ON or TURN_OFF"}}
	}
	if err := s.api.Control(ctx, farm.ID, id, command); err != nil {
		return err
	}
	s.log.Info("control command sent", zap.Int64("device_id", int64(id)), zap.String("command", string(command)))
	return nil
}

func validate(draft Draft) (api.DevicePayload, error) {
	fields := map[string]string{}

	if issues := draftSchema.Validate(&draft); issues != nil {
		for field, list := range issues {
			if strings.HasPrefix(field, "$") || len(list) == 0 {
				continue
			}
			fields[field] = list[0].Message
		}
	}

	dt := model.DeviceType(strings.ToUpper(strings.TrimSpace(draft.Type)))
	if !dt.Valid() {
		fields["Type"] = "unknown device type"
	}

	if len(fields) > 0 {
		return api.DevicePayload{}, &ValidationError{Fields: fields}
	}
	return api.DevicePayload{
		Name:       strings.TrimSpace(draft.Name),
		Type:       dt,
		Identifier: strings.TrimSpace(draft.Identifier),
	}, nil
}

package service

import (
	"context"

	"github.com/c360/sensorgraph/domain"
	"github.com/c360/sensorgraph/repository"
)

// CreateSensor creates a sensor of the named types, creating any type that
// does not exist yet, and returns its id. Duplicate type names collapse.
func (s *Service) CreateSensor(ctx context.Context, name, locationCode string, typeNames []string) (int64, error) {
	const op = "CreateSensor"
	switch {
	case name == "":
		return 0, s.finish(ctx, op, domain.InvalidRequest("sensor name is required"))
	case locationCode == "":
		return 0, s.finish(ctx, op, domain.InvalidRequest("location code is required"))
	}
	for _, t := range typeNames {
		if t == "" {
			return 0, s.finish(ctx, op, domain.InvalidRequest("sensor type names must not be empty"))
		}
	}

	var id int64
	err := s.update(ctx, op, func(tx *repository.Tx) error {
		sensor := domain.Sensor{Name: name, LocationCode: locationCode}
		for _, t := range typeNames {
			if sensor.HasType(t) {
				continue
			}
			st, _, err := tx.SaveSensorType(t)
			if err != nil {
				return err
			}
			sensor.Types = append(sensor.Types, st)
		}
		if err := tx.SaveSensor(&sensor); err != nil {
			return err
		}
		id = sensor.ID
		return nil
	})
	if err != nil {
		return 0, err
	}
	return id, nil
}

// AssignSensorToGateway connects a sensor to a gateway. A sensor that is
// already connected, to any gateway, must be detached first.
func (s *Service) AssignSensorToGateway(ctx context.Context, sensorID, gatewayID int64) error {
	return s.update(ctx, "AssignSensorToGateway", func(tx *repository.Tx) error {
		sn, err := sensor(tx, sensorID)
		if err != nil {
			return err
		}
		if sn.Gateway != nil {
			return domain.SensorAlreadyConnected(sensorID, sn.Gateway.ID)
		}
		gw, ok, err := tx.FindGateway(gatewayID)
		if err != nil {
			return err
		}
		if !ok {
			return domain.GatewayNotFound(gatewayID)
		}
		sn.Gateway = &gw
		return tx.SaveSensor(&sn)
	})
}

// DetachSensorFromGateway removes the sensor's gateway connection, if any.
func (s *Service) DetachSensorFromGateway(ctx context.Context, sensorID int64) error {
	return s.update(ctx, "DetachSensorFromGateway", func(tx *repository.Tx) error {
		sn, err := sensor(tx, sensorID)
		if err != nil {
			return err
		}
		if sn.Gateway == nil {
			return nil
		}
		sn.Gateway = nil
		return tx.SaveSensor(&sn)
	})
}

// AttachType adds the named type to a sensor, creating the type if needed.
// Attaching a type the sensor already has is a no-op.
func (s *Service) AttachType(ctx context.Context, sensorID int64, typeName string) error {
	const op = "AttachType"
	if typeName == "" {
		return s.finish(ctx, op, domain.InvalidRequest("sensor type name is required"))
	}
	return s.update(ctx, op, func(tx *repository.Tx) error {
		sn, err := sensor(tx, sensorID)
		if err != nil {
			return err
		}
		if sn.HasType(typeName) {
			return nil
		}
		st, _, err := tx.SaveSensorType(typeName)
		if err != nil {
			return err
		}
		sn.Types = append(sn.Types, st)
		return tx.SaveSensor(&sn)
	})
}

// ListSensors returns every sensor.
func (s *Service) ListSensors(ctx context.Context) ([]domain.Sensor, error) {
	var out []domain.Sensor
	err := s.view(ctx, "ListSensors", func(tx *repository.Tx) error {
		var err error
		out, err = tx.FindAllSensors()
		return err
	})
	return out, err
}

// GetSensor returns the sensor with id or SensorNotFound.
func (s *Service) GetSensor(ctx context.Context, id int64) (domain.Sensor, error) {
	var out domain.Sensor
	err := s.view(ctx, "GetSensor", func(tx *repository.Tx) error {
		var err error
		out, err = sensor(tx, id)
		return err
	})
	return out, err
}

// ListSensorsByType returns the sensors of the named type.
func (s *Service) ListSensorsByType(ctx context.Context, typeName string) ([]domain.Sensor, error) {
	var out []domain.Sensor
	err := s.view(ctx, "ListSensorsByType", func(tx *repository.Tx) error {
		var err error
		out, err = tx.FindSensorsByType(typeName)
		return err
	})
	return out, err
}

// ListSensorsByGateway returns the sensors connected to gatewayID. An unknown
// gateway yields an empty list.
func (s *Service) ListSensorsByGateway(ctx context.Context, gatewayID int64) ([]domain.Sensor, error) {
	var out []domain.Sensor
	err := s.view(ctx, "ListSensorsByGateway", func(tx *repository.Tx) error {
		var err error
		out, err = tx.FindSensorsByGateway(gatewayID)
		return err
	})
	return out, err
}

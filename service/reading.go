package service

import (
	"context"
	"sort"

	"github.com/c360/sensorgraph/domain"
	"github.com/c360/sensorgraph/repository"
)

// UpsertReading records value as the sensor's last reading for typeName,
// stamped with the current local time. The type is created if needed but is
// not attached to the sensor; use AttachType for that. The previous reading
// for the type is deleted.
func (s *Service) UpsertReading(ctx context.Context, sensorID int64, typeName string, value float64) error {
	const op = "UpsertReading"
	if typeName == "" {
		return s.finish(ctx, op, domain.InvalidRequest("sensor type name is required"))
	}
	return s.update(ctx, op, func(tx *repository.Tx) error {
		sn, err := sensor(tx, sensorID)
		if err != nil {
			return err
		}
		if _, _, err := tx.SaveSensorType(typeName); err != nil {
			return err
		}
		sn.SetReading(typeName, domain.LastReading{
			Timestamp: domain.Timestamp(s.now()),
			Reading:   value,
		})
		return tx.SaveSensor(&sn)
	})
}

// ListReadings returns the sensor's last readings ordered by type name.
func (s *Service) ListReadings(ctx context.Context, sensorID int64) ([]domain.Reading, error) {
	var out []domain.Reading
	err := s.view(ctx, "ListReadings", func(tx *repository.Tx) error {
		sn, err := sensor(tx, sensorID)
		if err != nil {
			return err
		}
		out = make([]domain.Reading, 0, len(sn.LastReadings))
		for _, r := range sn.LastReadings {
			out = append(out, domain.Reading{
				ID:         r.Reading.ID,
				SensorType: r.Type,
				Timestamp:  r.Reading.Timestamp,
				Reading:    r.Reading.Reading,
			})
		}
		sort.Slice(out, func(i, j int) bool { return out[i].SensorType < out[j].SensorType })
		return nil
	})
	return out, err
}

package repository_test

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/sensorgraph/domain"
	"github.com/c360/sensorgraph/errors"
	"github.com/c360/sensorgraph/graph"
	"github.com/c360/sensorgraph/repository"
	"github.com/c360/sensorgraph/testutil"
)

func update(t *testing.T, repo *repository.Repository, fn func(*repository.Tx) error) {
	t.Helper()
	require.NoError(t, repo.Update(context.Background(), fn))
}

func view(t *testing.T, repo *repository.Repository, fn func(*repository.Tx) error) {
	t.Helper()
	require.NoError(t, repo.View(context.Background(), fn))
}

func TestGateway_SaveAndFind(t *testing.T) {
	repo := testutil.NewRepository(t)

	var ids []int64
	update(t, repo, func(tx *repository.Tx) error {
		for _, name := range testutil.GatewayNames {
			gw := domain.Gateway{Name: name}
			require.NoError(t, tx.SaveGateway(&gw))
			ids = append(ids, gw.ID)
		}
		return nil
	})
	assert.Less(t, ids[0], ids[1])
	assert.Less(t, ids[1], ids[2])

	view(t, repo, func(tx *repository.Tx) error {
		gw, ok, err := tx.FindGateway(ids[1])
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, testutil.GatewayNames[1], gw.Name)

		_, ok, err = tx.FindGateway(9999)
		require.NoError(t, err)
		assert.False(t, ok)

		all, err := tx.FindAllGateways()
		require.NoError(t, err)
		assert.Len(t, all, 3)
		return nil
	})
}

func TestSensor_SaveHydrates(t *testing.T) {
	repo := testutil.NewRepository(t)
	var sensorID, gatewayID int64

	update(t, repo, func(tx *repository.Tx) error {
		gw := domain.Gateway{Name: "gw"}
		require.NoError(t, tx.SaveGateway(&gw))
		gatewayID = gw.ID

		for _, typ := range []string{"temperature", "humidity"} {
			_, _, err := tx.SaveSensorType(typ)
			require.NoError(t, err)
		}
		s := domain.Sensor{
			Name:         "thermo",
			LocationCode: "A1",
			Types:        []domain.SensorType{{Name: "temperature"}, {Name: "humidity"}},
			Gateway:      &gw,
		}
		s.SetReading("temperature", domain.LastReading{Timestamp: domain.Timestamp(testutil.FixedTime), Reading: 21.5})
		require.NoError(t, tx.SaveSensor(&s))
		sensorID = s.ID
		assert.NotZero(t, s.LastReadings[0].Reading.ID)
		return nil
	})

	view(t, repo, func(tx *repository.Tx) error {
		s, ok, err := tx.FindSensor(sensorID)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, "thermo", s.Name)
		assert.Equal(t, "A1", s.LocationCode)
		assert.ElementsMatch(t, []domain.SensorType{{Name: "temperature"}, {Name: "humidity"}}, s.Types)
		require.NotNil(t, s.Gateway)
		assert.Equal(t, gatewayID, s.Gateway.ID)

		r, ok := s.Reading("temperature")
		require.True(t, ok)
		assert.Equal(t, 21.5, r.Reading)
		assert.True(t, time.Time(r.Timestamp).Equal(testutil.FixedTime))
		return nil
	})
}

func TestSensor_ReplacingReadingDeletesOldNode(t *testing.T) {
	repo := testutil.NewRepository(t)
	var sensorID, firstReadingID int64

	update(t, repo, func(tx *repository.Tx) error {
		_, _, err := tx.SaveSensorType("temperature")
		require.NoError(t, err)
		s := domain.Sensor{Name: "thermo", LocationCode: "A1"}
		s.SetReading("temperature", domain.LastReading{Reading: 1})
		require.NoError(t, tx.SaveSensor(&s))
		sensorID, firstReadingID = s.ID, s.LastReadings[0].Reading.ID
		return nil
	})

	update(t, repo, func(tx *repository.Tx) error {
		s, _, err := tx.FindSensor(sensorID)
		require.NoError(t, err)
		s.SetReading("temperature", domain.LastReading{Reading: 2})
		return tx.SaveSensor(&s)
	})

	view(t, repo, func(tx *repository.Tx) error {
		s, _, err := tx.FindSensor(sensorID)
		require.NoError(t, err)
		require.Len(t, s.LastReadings, 1)
		assert.Equal(t, 2.0, s.LastReadings[0].Reading.Reading)
		assert.NotEqual(t, firstReadingID, s.LastReadings[0].Reading.ID)
		return nil
	})
}

func TestSensor_UnparsableReadingTimestamp(t *testing.T) {
	store := testutil.NewStore(t, nil)
	repo := repository.New(store)
	var sensorID, readingID int64

	update(t, repo, func(tx *repository.Tx) error {
		_, _, err := tx.SaveSensorType("temperature")
		require.NoError(t, err)
		s := domain.Sensor{Name: "thermo", LocationCode: "A1"}
		s.SetReading("temperature", domain.LastReading{Reading: 1})
		require.NoError(t, tx.SaveSensor(&s))
		sensorID, readingID = s.ID, s.LastReadings[0].Reading.ID
		return nil
	})

	require.NoError(t, store.Update(context.Background(), func(tx *graph.Tx) error {
		_, err := tx.SaveNode(repository.LabelLastReading, graph.Properties{
			"timestamp": "yesterday-ish",
			"reading":   1.0,
		}, graph.ID(strconv.FormatInt(readingID, 10)))
		return err
	}))

	err := repo.View(context.Background(), func(tx *repository.Tx) error {
		_, _, err := tx.FindSensor(sensorID)
		return err
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrSnapshotCorrupted)
	assert.True(t, errors.IsFatal(err))
	assert.Contains(t, err.Error(), "yesterday-ish")
}

func TestSensor_DetachGateway(t *testing.T) {
	repo := testutil.NewRepository(t)
	var sensorID int64

	update(t, repo, func(tx *repository.Tx) error {
		gw := domain.Gateway{Name: "gw"}
		require.NoError(t, tx.SaveGateway(&gw))
		s := domain.Sensor{Name: "thermo", LocationCode: "A1", Gateway: &gw}
		require.NoError(t, tx.SaveSensor(&s))
		sensorID = s.ID
		return nil
	})
	update(t, repo, func(tx *repository.Tx) error {
		s, _, _ := tx.FindSensor(sensorID)
		s.Gateway = nil
		return tx.SaveSensor(&s)
	})
	view(t, repo, func(tx *repository.Tx) error {
		s, _, _ := tx.FindSensor(sensorID)
		assert.Nil(t, s.Gateway)
		return nil
	})
}

func TestSensor_SaveErrors(t *testing.T) {
	repo := testutil.NewRepository(t)

	err := repo.Update(context.Background(), func(tx *repository.Tx) error {
		s := domain.Sensor{Name: "p", LocationCode: "l", Types: []domain.SensorType{{Name: "ghost"}}}
		return tx.SaveSensor(&s)
	})
	assert.ErrorIs(t, err, domain.ErrSensorTypeNotFound)

	err = repo.Update(context.Background(), func(tx *repository.Tx) error {
		s := domain.Sensor{Name: "p", LocationCode: "l", Gateway: &domain.Gateway{ID: 42}}
		return tx.SaveSensor(&s)
	})
	assert.ErrorIs(t, err, domain.ErrGatewayNotFound)

	err = repo.Update(context.Background(), func(tx *repository.Tx) error {
		s := domain.Sensor{ID: 77, Name: "p", LocationCode: "l"}
		return tx.SaveSensor(&s)
	})
	assert.ErrorIs(t, err, domain.ErrSensorNotFound)
}

func TestTraversals(t *testing.T) {
	repo := testutil.NewRepository(t)
	gateways := map[string]int64{}

	update(t, repo, func(tx *repository.Tx) error {
		for _, name := range testutil.GatewayNames {
			gw := domain.Gateway{Name: name}
			require.NoError(t, tx.SaveGateway(&gw))
			gateways[name] = gw.ID
		}
		for i, fx := range testutil.Sensors {
			s := domain.Sensor{Name: fx.Name, LocationCode: fx.LocationCode}
			for _, typ := range fx.Types {
				st, _, err := tx.SaveSensorType(typ)
				require.NoError(t, err)
				s.Types = append(s.Types, st)
			}
			// thermo-1, thermo-2 on north-hall; thermo-3 on roof
			gwName := "north-hall"
			if i == 2 {
				gwName = "roof"
			}
			s.Gateway = &domain.Gateway{ID: gateways[gwName]}
			require.NoError(t, tx.SaveSensor(&s))
		}
		return nil
	})

	view(t, repo, func(tx *repository.Tx) error {
		temp, err := tx.FindGatewaysWithSensorType("temperature")
		require.NoError(t, err)
		require.Len(t, temp, 1)
		assert.Equal(t, "north-hall", temp[0].Name)

		co2, err := tx.FindGatewaysWithSensorType("co2")
		require.NoError(t, err)
		require.Len(t, co2, 1)
		assert.Equal(t, "roof", co2[0].Name)

		none, err := tx.FindGatewaysWithSensorType("pressure")
		require.NoError(t, err)
		assert.Empty(t, none)

		north, err := tx.FindSensorsByGateway(gateways["north-hall"])
		require.NoError(t, err)
		require.Len(t, north, 2)
		assert.Equal(t, "thermo-1", north[0].Name)
		assert.Equal(t, "thermo-2", north[1].Name)

		south, err := tx.FindSensorsByGateway(gateways["south-hall"])
		require.NoError(t, err)
		assert.Empty(t, south)

		hum, err := tx.FindSensorsByType("humidity")
		require.NoError(t, err)
		require.Len(t, hum, 1)
		assert.Equal(t, "thermo-2", hum[0].Name)

		all, err := tx.FindAllSensors()
		require.NoError(t, err)
		assert.Len(t, all, 3)

		assert.Equal(t, 3, tx.CountSensorTypes())
		_, ok := tx.FindSensorType("co2")
		assert.True(t, ok)
		return nil
	})
}

func TestSaveSensorType_GetOrCreate(t *testing.T) {
	repo := testutil.NewRepository(t)

	update(t, repo, func(tx *repository.Tx) error {
		_, created, err := tx.SaveSensorType("temperature")
		require.NoError(t, err)
		assert.True(t, created)

		st, created, err := tx.SaveSensorType("temperature")
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, "temperature", st.Name)

		_, _, err = tx.SaveSensorType("")
		assert.ErrorIs(t, err, domain.ErrInvalidRequest)
		return nil
	})
}

package service_test

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/c360/sensorgraph/domain"
	"github.com/c360/sensorgraph/graph"
	"github.com/c360/sensorgraph/metric"
	"github.com/c360/sensorgraph/repository"
	"github.com/c360/sensorgraph/service"
	fixtures "github.com/c360/sensorgraph/testutil"
)

type ServiceSuite struct {
	suite.Suite
	ctx      context.Context
	repo     *repository.Repository
	registry *metric.MetricsRegistry
	svc      *service.Service
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctx = context.Background()
	s.repo = fixtures.NewRepository(s.T())
	s.registry = metric.NewMetricsRegistry()
	s.svc = service.New(s.repo,
		service.WithClock(fixtures.SteppingClock(fixtures.FixedTime, time.Second)),
		service.WithMetrics(s.registry),
	)
}

func (s *ServiceSuite) createSensor(name string, types ...string) int64 {
	id, err := s.svc.CreateSensor(s.ctx, name, "L1", types)
	s.Require().NoError(err)
	return id
}

func (s *ServiceSuite) countTypes() int {
	var n int
	s.Require().NoError(s.repo.View(s.ctx, func(tx *repository.Tx) error {
		n = tx.CountSensorTypes()
		return nil
	}))
	return n
}

func (s *ServiceSuite) TestCreateGateway() {
	id, err := s.svc.CreateGateway(s.ctx, "G1")
	s.Require().NoError(err)
	s.Equal(int64(1), id)

	gw, err := s.svc.GetGateway(s.ctx, id)
	s.Require().NoError(err)
	s.Equal(domain.Gateway{ID: 1, Name: "G1"}, gw)

	_, err = s.svc.CreateGateway(s.ctx, "")
	s.ErrorIs(err, domain.ErrInvalidRequest)

	_, err = s.svc.GetGateway(s.ctx, 42)
	s.ErrorIs(err, domain.ErrGatewayNotFound)
}

func (s *ServiceSuite) TestCreateSensor() {
	id := s.createSensor("S1", "electricity", "humidity", "electricity")

	sn, err := s.svc.GetSensor(s.ctx, id)
	s.Require().NoError(err)
	s.Equal("S1", sn.Name)
	s.Equal("L1", sn.LocationCode)
	s.ElementsMatch([]domain.SensorType{{Name: "electricity"}, {Name: "humidity"}}, sn.Types)
	s.Nil(sn.Gateway)
	s.Equal(2, s.countTypes())

	// no types is allowed
	bare := s.createSensor("S2")
	sn, err = s.svc.GetSensor(s.ctx, bare)
	s.Require().NoError(err)
	s.Empty(sn.Types)
}

func (s *ServiceSuite) TestCreateSensor_Invalid() {
	cases := []struct {
		name, location string
		types          []string
	}{
		{"", "L1", nil},
		{"S1", "", nil},
		{"S1", "L1", []string{"ok", ""}},
	}
	for _, c := range cases {
		_, err := s.svc.CreateSensor(s.ctx, c.name, c.location, c.types)
		s.ErrorIs(err, domain.ErrInvalidRequest)
	}
	sensors, err := s.svc.ListSensors(s.ctx)
	s.Require().NoError(err)
	s.Empty(sensors)
	s.Zero(s.countTypes())
}

func (s *ServiceSuite) TestCreate_WhitespaceNamesAreKept() {
	gid, err := s.svc.CreateGateway(s.ctx, " ")
	s.Require().NoError(err)
	gw, err := s.svc.GetGateway(s.ctx, gid)
	s.Require().NoError(err)
	s.Equal(" ", gw.Name)

	sid, err := s.svc.CreateSensor(s.ctx, "\t", " ", nil)
	s.Require().NoError(err)
	sn, err := s.svc.GetSensor(s.ctx, sid)
	s.Require().NoError(err)
	s.Equal("\t", sn.Name)
	s.Equal(" ", sn.LocationCode)
}

func (s *ServiceSuite) TestAssignSensorToGateway() {
	sid := s.createSensor("S1", "electricity")
	gid, err := s.svc.CreateGateway(s.ctx, "G1")
	s.Require().NoError(err)

	s.Require().NoError(s.svc.AssignSensorToGateway(s.ctx, sid, gid))

	sn, err := s.svc.GetSensor(s.ctx, sid)
	s.Require().NoError(err)
	s.Require().NotNil(sn.Gateway)
	s.Equal(gid, sn.Gateway.ID)

	err = s.svc.AssignSensorToGateway(s.ctx, sid, gid)
	s.ErrorIs(err, domain.ErrSensorAlreadyConnected)

	gateways, err := s.svc.ListGatewaysWithSensorType(s.ctx, "electricity")
	s.Require().NoError(err)
	s.Equal([]domain.Gateway{{ID: gid, Name: "G1"}}, gateways)

	sensors, err := s.svc.ListSensorsByGateway(s.ctx, gid)
	s.Require().NoError(err)
	s.Len(sensors, 1)
}

func (s *ServiceSuite) TestAssignSensorToGateway_CheckOrder() {
	err := s.svc.AssignSensorToGateway(s.ctx, 99, 98)
	s.ErrorIs(err, domain.ErrSensorNotFound)

	sid := s.createSensor("S1")
	err = s.svc.AssignSensorToGateway(s.ctx, sid, 98)
	s.ErrorIs(err, domain.ErrGatewayNotFound)

	gid, err := s.svc.CreateGateway(s.ctx, "G1")
	s.Require().NoError(err)
	s.Require().NoError(s.svc.AssignSensorToGateway(s.ctx, sid, gid))

	// already connected wins over a missing gateway
	err = s.svc.AssignSensorToGateway(s.ctx, sid, 98)
	s.ErrorIs(err, domain.ErrSensorAlreadyConnected)
}

func (s *ServiceSuite) TestDetachSensorFromGateway() {
	sid := s.createSensor("S1")
	gid, err := s.svc.CreateGateway(s.ctx, "G1")
	s.Require().NoError(err)
	s.Require().NoError(s.svc.AssignSensorToGateway(s.ctx, sid, gid))

	s.Require().NoError(s.svc.DetachSensorFromGateway(s.ctx, sid))
	s.Require().NoError(s.svc.DetachSensorFromGateway(s.ctx, sid))

	sn, err := s.svc.GetSensor(s.ctx, sid)
	s.Require().NoError(err)
	s.Nil(sn.Gateway)

	// reassign after detach
	s.NoError(s.svc.AssignSensorToGateway(s.ctx, sid, gid))
	s.ErrorIs(s.svc.DetachSensorFromGateway(s.ctx, 404), domain.ErrSensorNotFound)
}

func (s *ServiceSuite) TestAttachType_Idempotent() {
	sid := s.createSensor("S1", "electricity")

	s.Require().NoError(s.svc.AttachType(s.ctx, sid, "humidity"))
	s.Require().NoError(s.svc.AttachType(s.ctx, sid, "humidity"))

	sn, err := s.svc.GetSensor(s.ctx, sid)
	s.Require().NoError(err)
	s.ElementsMatch([]domain.SensorType{{Name: "electricity"}, {Name: "humidity"}}, sn.Types)

	byType, err := s.svc.ListSensorsByType(s.ctx, "humidity")
	s.Require().NoError(err)
	s.Len(byType, 1)

	s.ErrorIs(s.svc.AttachType(s.ctx, 404, "humidity"), domain.ErrSensorNotFound)
	s.ErrorIs(s.svc.AttachType(s.ctx, sid, ""), domain.ErrInvalidRequest)
}

func (s *ServiceSuite) TestUpsertReading_ReplacesPrevious() {
	sid := s.createSensor("S1", "electricity")

	s.Require().NoError(s.svc.UpsertReading(s.ctx, sid, "electricity", 42.5))
	s.Require().NoError(s.svc.UpsertReading(s.ctx, sid, "electricity", 43.0))

	readings, err := s.svc.ListReadings(s.ctx, sid)
	s.Require().NoError(err)
	s.Require().Len(readings, 1)
	s.Equal("electricity", readings[0].SensorType)
	s.Equal(43.0, readings[0].Reading)
	s.True(time.Time(readings[0].Timestamp).Equal(fixtures.FixedTime.Add(time.Second)))

	s.Require().NoError(s.repo.View(s.ctx, func(tx *repository.Tx) error {
		sn, _, err := tx.FindSensor(sid)
		s.Require().NoError(err)
		s.Len(sn.LastReadings, 1)
		return nil
	}))
}

func (s *ServiceSuite) TestUpsertReading_DoesNotAttachType() {
	sid := s.createSensor("S1")

	s.Require().NoError(s.svc.UpsertReading(s.ctx, sid, "co2", 415))
	s.Require().NoError(s.svc.UpsertReading(s.ctx, sid, "humidity", 40))

	sn, err := s.svc.GetSensor(s.ctx, sid)
	s.Require().NoError(err)
	s.Empty(sn.Types)
	s.Equal(2, s.countTypes())

	readings, err := s.svc.ListReadings(s.ctx, sid)
	s.Require().NoError(err)
	s.Require().Len(readings, 2)
	s.Equal("co2", readings[0].SensorType)
	s.Equal("humidity", readings[1].SensorType)
}

func (s *ServiceSuite) TestUpsertReading_Errors() {
	s.ErrorIs(s.svc.UpsertReading(s.ctx, 999, "electricity", 1), domain.ErrSensorNotFound)
	s.Zero(s.countTypes())

	sid := s.createSensor("S1")
	s.ErrorIs(s.svc.UpsertReading(s.ctx, sid, "", 1), domain.ErrInvalidRequest)

	_, err := s.svc.ListReadings(s.ctx, 999)
	s.ErrorIs(err, domain.ErrSensorNotFound)
}

func (s *ServiceSuite) TestOperationMetrics() {
	_, err := s.svc.CreateGateway(s.ctx, "G1")
	s.Require().NoError(err)
	_, err = s.svc.CreateGateway(s.ctx, "")
	s.Require().Error(err)
	_, err = s.svc.GetSensor(s.ctx, 7)
	s.Require().Error(err)

	mfs, err := s.registry.PrometheusRegistry().Gather()
	s.Require().NoError(err)
	var found bool
	for _, mf := range mfs {
		if mf.GetName() == "sensorgraph_domain_operations_total" {
			found = true
			s.Len(mf.GetMetric(), 3)
		}
	}
	s.True(found)
}

func (s *ServiceSuite) gauges(name string) map[string]float64 {
	mfs, err := s.registry.PrometheusRegistry().Gather()
	s.Require().NoError(err)
	out := map[string]float64{}
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			out[m.GetLabel()[0].GetValue()] = m.GetGauge().GetValue()
		}
	}
	return out
}

func (s *ServiceSuite) TestEntityAndLatencyMetrics() {
	sid := s.createSensor("S1", "electricity", "humidity")
	gid, err := s.svc.CreateGateway(s.ctx, "G1")
	s.Require().NoError(err)
	s.Require().NoError(s.svc.AssignSensorToGateway(s.ctx, sid, gid))
	s.Require().NoError(s.svc.UpsertReading(s.ctx, sid, "electricity", 1))
	s.Require().NoError(s.svc.UpsertReading(s.ctx, sid, "electricity", 2))

	s.Equal(map[string]float64{
		"Gateway":     1,
		"Sensor":      1,
		"SensorType":  2,
		"LastReading": 1,
	}, s.gauges("sensorgraph_domain_entities"))

	mfs, err := s.registry.PrometheusRegistry().Gather()
	s.Require().NoError(err)
	var samples uint64
	for _, mf := range mfs {
		if mf.GetName() == "sensorgraph_domain_operation_duration_seconds" {
			for _, m := range mf.GetMetric() {
				samples += m.GetHistogram().GetSampleCount()
			}
		}
	}
	s.Equal(uint64(5), samples)
}

func (s *ServiceSuite) TestCloseUnregistersMetrics() {
	_, err := s.svc.CreateGateway(s.ctx, "G1")
	s.Require().NoError(err)
	s.svc.Close()

	mfs, err := s.registry.PrometheusRegistry().Gather()
	s.Require().NoError(err)
	for _, mf := range mfs {
		s.NotContains(mf.GetName(), "sensorgraph_domain_")
	}

	// a fresh service can register the same metrics again
	again := service.New(s.repo, service.WithMetrics(s.registry))
	defer again.Close()
	_, err = again.CreateGateway(s.ctx, "G2")
	s.Require().NoError(err)
	s.Equal(float64(2), s.gauges("sensorgraph_domain_entities")["Gateway"])
}

func TestService_InternalErrors(t *testing.T) {
	backend := fixtures.NewFailingBackend()
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	svc := service.New(repository.New(fixtures.NewStore(t, backend)), service.WithLogger(logger))
	backend.SetFailing(true)

	_, err := svc.CreateGateway(context.Background(), "G1")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrInternal)
	assert.Equal(t, domain.KindInternal, domain.KindOf(err))
	assert.Contains(t, logs.String(), "operation failed")
	assert.Contains(t, logs.String(), "operation=CreateGateway")
	assert.Contains(t, logs.String(), "class=")

	_, err = svc.ListSensors(context.Background())
	assert.ErrorIs(t, err, domain.ErrInternal)
}

func TestService_ConcurrentGetOrCreateType(t *testing.T) {
	backend := graph.NewMemoryBackend()
	// two stores over one backend behave like two processes
	services := []*service.Service{
		service.New(repository.New(fixtures.NewStore(t, backend))),
		service.New(repository.New(fixtures.NewStore(t, backend))),
	}

	const n = 12
	ids := make([]int64, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := services[i%2].CreateSensor(context.Background(), fmt.Sprintf("S%d", i), "L", []string{"x"})
			assert.NoError(t, err)
			ids[i] = id
		}(i)
	}
	wg.Wait()

	repo := repository.New(fixtures.NewStore(t, backend))
	require.NoError(t, repo.View(context.Background(), func(tx *repository.Tx) error {
		assert.Equal(t, 1, tx.CountSensorTypes())
		sensors, err := tx.FindSensorsByType("x")
		require.NoError(t, err)
		assert.Len(t, sensors, n)
		return nil
	}))

	seen := map[int64]bool{}
	for _, id := range ids {
		assert.False(t, seen[id], "duplicate id %d", id)
		seen[id] = true
	}
}

func TestService_ConcurrentUpsertKeepsOneReading(t *testing.T) {
	svc := service.New(fixtures.NewRepository(t))
	ctx := context.Background()
	sid, err := svc.CreateSensor(ctx, "S1", "L1", []string{"electricity"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(v float64) {
			defer wg.Done()
			assert.NoError(t, svc.UpsertReading(ctx, sid, "electricity", v))
		}(float64(i))
	}
	wg.Wait()

	readings, err := svc.ListReadings(ctx, sid)
	require.NoError(t, err)
	assert.Len(t, readings, 1)
}

package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/c360/sensorgraph/domain"
)

// route is one entry of the HTTP surface. The same table drives the router
// and the OpenAPI document.
type route struct {
	method    string
	path      string
	summary   string
	tag       string
	body      *bodySchema
	responses map[string]string
	handler   http.HandlerFunc
}

func (s *Server) routeTable() []route {
	return []route{
		{http.MethodPost, "/gateways/add", "Create a gateway", "gateways", gatewayAddBody,
			map[string]string{"200": "Gateway created", "400": "Invalid request", "413": "Body too large", "500": "Internal error"},
			s.createGateway},
		{http.MethodGet, "/gateways", "List all gateways", "gateways", nil,
			map[string]string{"200": "Gateways", "500": "Internal error"},
			s.listGateways},
		{http.MethodGet, "/gateways/gateway-id/{id}", "Get a gateway by id", "gateways", nil,
			map[string]string{"200": "Gateway", "400": "Invalid id", "404": "Gateway not found", "500": "Internal error"},
			s.getGateway},
		{http.MethodGet, "/gateways/{type}", "List gateways with a connected sensor of a type", "gateways", nil,
			map[string]string{"200": "Gateways", "500": "Internal error"},
			s.listGatewaysWithSensorType},
		{http.MethodPost, "/sensors/add", "Create a sensor", "sensors", sensorAddBody,
			map[string]string{"200": "Sensor created", "400": "Invalid request", "413": "Body too large", "500": "Internal error"},
			s.createSensor},
		{http.MethodGet, "/sensors", "List all sensors", "sensors", nil,
			map[string]string{"200": "Sensors", "204": "No sensors", "500": "Internal error"},
			s.listSensors},
		{http.MethodGet, "/sensors/{id}", "Get a sensor by id", "sensors", nil,
			map[string]string{"200": "Sensor", "400": "Invalid id", "404": "Sensor not found", "500": "Internal error"},
			s.getSensor},
		{http.MethodGet, "/sensors/type/{type}", "List sensors of a type", "sensors", nil,
			map[string]string{"200": "Sensors", "204": "No sensors", "500": "Internal error"},
			s.listSensorsByType},
		{http.MethodPut, "/sensors/attachType", "Attach a type to a sensor", "sensors", attachTypeBody,
			map[string]string{"200": "Type attached", "400": "Invalid request or sensor not found", "500": "Internal error"},
			s.attachType},
		{http.MethodPut, "/sensors/to-gateway", "Connect a sensor to a gateway", "sensors", toGatewayBody,
			map[string]string{"200": "Sensor connected", "400": "Invalid request, not found or already connected", "500": "Internal error"},
			s.assignToGateway},
		{http.MethodPut, "/sensors/detach-gateway", "Disconnect a sensor from its gateway", "sensors", detachGatewayBody,
			map[string]string{"200": "Sensor detached", "400": "Invalid request or sensor not found", "500": "Internal error"},
			s.detachFromGateway},
		{http.MethodGet, "/sensors/gateway-id/{gid}", "List sensors connected to a gateway", "sensors", nil,
			map[string]string{"200": "Sensors", "400": "Invalid id", "500": "Internal error"},
			s.listSensorsByGateway},
		{http.MethodGet, "/sensors/get-last-readings/{sid}", "List a sensor's last readings", "readings", nil,
			map[string]string{"200": "Readings", "400": "Invalid id", "404": "Sensor not found", "500": "Internal error"},
			s.listReadings},
		{http.MethodPut, "/sensors/add-last-readings/", "Record a sensor's last reading for a type", "readings", addReadingBody,
			map[string]string{"200": "Reading recorded", "400": "Invalid request", "404": "Sensor not found", "500": "Internal error"},
			s.upsertReading},
	}
}

// pathID parses a numeric path parameter.
func pathID(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, domain.InvalidRequest("%s must be an integer, got %q", name, raw)
	}
	return id, nil
}

type createGatewayRequest struct {
	Name string `json:"name"`
}

type createGatewayResponse struct {
	GatewayID int64  `json:"gateway_id"`
	Status    string `json:"status"`
}

func (s *Server) createGateway(w http.ResponseWriter, r *http.Request) {
	var req createGatewayRequest
	if err := s.decode(w, r, gatewayAddBody, &req); err != nil {
		s.failDecode(w, r, err)
		return
	}
	id, err := s.svc.CreateGateway(r.Context(), req.Name)
	if err != nil {
		s.fail(w, r, err, http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, createGatewayResponse{GatewayID: id, Status: "OK"})
}

func (s *Server) listGateways(w http.ResponseWriter, r *http.Request) {
	gateways, err := s.svc.ListGateways(r.Context())
	if err != nil {
		s.fail(w, r, err, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(gateways))
}

func (s *Server) getGateway(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.fail(w, r, err, http.StatusNotFound)
		return
	}
	gw, err := s.svc.GetGateway(r.Context(), id)
	if err != nil {
		s.fail(w, r, err, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, gw)
}

func (s *Server) listGatewaysWithSensorType(w http.ResponseWriter, r *http.Request) {
	gateways, err := s.svc.ListGatewaysWithSensorType(r.Context(), chi.URLParam(r, "type"))
	if err != nil {
		s.fail(w, r, err, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(gateways))
}

type createSensorRequest struct {
	Name         string   `json:"name"`
	LocationCode string   `json:"location_code"`
	Types        []string `json:"type"`
}

type createSensorResponse struct {
	SensorID int64  `json:"sensor_id"`
	Status   string `json:"status"`
}

func (s *Server) createSensor(w http.ResponseWriter, r *http.Request) {
	var req createSensorRequest
	if err := s.decode(w, r, sensorAddBody, &req); err != nil {
		s.failDecode(w, r, err)
		return
	}
	id, err := s.svc.CreateSensor(r.Context(), req.Name, req.LocationCode, req.Types)
	if err != nil {
		s.fail(w, r, err, http.StatusBadRequest)
		return
	}
	writeJSON(w, http.StatusOK, createSensorResponse{SensorID: id, Status: "OK"})
}

func (s *Server) listSensors(w http.ResponseWriter, r *http.Request) {
	sensors, err := s.svc.ListSensors(r.Context())
	if err != nil {
		s.fail(w, r, err, http.StatusNotFound)
		return
	}
	writeSensors(w, sensors)
}

func (s *Server) getSensor(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.fail(w, r, err, http.StatusNotFound)
		return
	}
	sensor, err := s.svc.GetSensor(r.Context(), id)
	if err != nil {
		s.fail(w, r, err, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, sensor)
}

func (s *Server) listSensorsByType(w http.ResponseWriter, r *http.Request) {
	sensors, err := s.svc.ListSensorsByType(r.Context(), chi.URLParam(r, "type"))
	if err != nil {
		s.fail(w, r, err, http.StatusNotFound)
		return
	}
	writeSensors(w, sensors)
}

type attachTypeRequest struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`
}

func (s *Server) attachType(w http.ResponseWriter, r *http.Request) {
	var req attachTypeRequest
	if err := s.decode(w, r, attachTypeBody, &req); err != nil {
		s.failDecode(w, r, err)
		return
	}
	if err := s.svc.AttachType(r.Context(), req.ID, req.Type); err != nil {
		s.fail(w, r, err, http.StatusBadRequest)
		return
	}
	writeText(w, "Sensor type added successfully.")
}

type sensorGatewayRequest struct {
	SensorID  int64 `json:"sensor_id"`
	GatewayID int64 `json:"gateway_id"`
}

func (s *Server) assignToGateway(w http.ResponseWriter, r *http.Request) {
	var req sensorGatewayRequest
	if err := s.decode(w, r, toGatewayBody, &req); err != nil {
		s.failDecode(w, r, err)
		return
	}
	if err := s.svc.AssignSensorToGateway(r.Context(), req.SensorID, req.GatewayID); err != nil {
		s.fail(w, r, err, http.StatusBadRequest)
		return
	}
	writeText(w, "Sensor is tagged to Gateway successfully")
}

func (s *Server) detachFromGateway(w http.ResponseWriter, r *http.Request) {
	var req sensorGatewayRequest
	if err := s.decode(w, r, detachGatewayBody, &req); err != nil {
		s.failDecode(w, r, err)
		return
	}
	if err := s.svc.DetachSensorFromGateway(r.Context(), req.SensorID); err != nil {
		s.fail(w, r, err, http.StatusBadRequest)
		return
	}
	writeText(w, "Sensor is detached from Gateway successfully")
}

func (s *Server) listSensorsByGateway(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "gid")
	if err != nil {
		s.fail(w, r, err, http.StatusNotFound)
		return
	}
	sensors, err := s.svc.ListSensorsByGateway(r.Context(), id)
	if err != nil {
		s.fail(w, r, err, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(sensors))
}

func (s *Server) listReadings(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "sid")
	if err != nil {
		s.fail(w, r, err, http.StatusNotFound)
		return
	}
	readings, err := s.svc.ListReadings(r.Context(), id)
	if err != nil {
		s.fail(w, r, err, http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(readings))
}

type addReadingRequest struct {
	SensorID   int64   `json:"sensor_id"`
	SensorType string  `json:"sensor_type"`
	Reading    float64 `json:"reading"`
}

func (s *Server) upsertReading(w http.ResponseWriter, r *http.Request) {
	var req addReadingRequest
	if err := s.decode(w, r, addReadingBody, &req); err != nil {
		s.failDecode(w, r, err)
		return
	}
	if err := s.svc.UpsertReading(r.Context(), req.SensorID, req.SensorType, req.Reading); err != nil {
		s.fail(w, r, err, http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	status := s.monitor.Check(r.Context(), "sensorgraph")
	code := http.StatusOK
	if status.IsUnhealthy() {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}

func writeSensors(w http.ResponseWriter, sensors []domain.Sensor) {
	if len(sensors) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, sensors)
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}

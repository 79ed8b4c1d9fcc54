package api

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/c360/sensorgraph/domain"
)

// Request body schemas (JSON Schema draft-07). They are also published in the
// OpenAPI document.
const (
	gatewayAddSchema = `{
  "type": "object",
  "properties": {"name": {"type": "string"}},
  "required": ["name"]
}`
	sensorAddSchema = `{
  "type": "object",
  "properties": {
    "name": {"type": "string"},
    "location_code": {"type": "string"},
    "type": {"type": "array", "items": {"type": "string"}}
  },
  "required": ["name", "location_code"]
}`
	attachTypeSchema = `{
  "type": "object",
  "properties": {
    "id": {"type": "integer"},
    "type": {"type": "string"}
  },
  "required": ["id", "type"]
}`
	toGatewaySchema = `{
  "type": "object",
  "properties": {
    "sensor_id": {"type": "integer"},
    "gateway_id": {"type": "integer"}
  },
  "required": ["sensor_id", "gateway_id"]
}`
	detachGatewaySchema = `{
  "type": "object",
  "properties": {"sensor_id": {"type": "integer"}},
  "required": ["sensor_id"]
}`
	addReadingSchema = `{
  "type": "object",
  "properties": {
    "sensor_id": {"type": "integer"},
    "sensor_type": {"type": "string"},
    "reading": {"type": "number"}
  },
  "required": ["sensor_id", "sensor_type", "reading"]
}`
)

// bodySchema is a compiled request schema together with its source.
type bodySchema struct {
	source string
	schema *gojsonschema.Schema
}

func mustSchema(source string) *bodySchema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(source))
	if err != nil {
		panic(fmt.Sprintf("api: invalid request schema: %v", err))
	}
	return &bodySchema{source: source, schema: schema}
}

var (
	gatewayAddBody    = mustSchema(gatewayAddSchema)
	sensorAddBody     = mustSchema(sensorAddSchema)
	attachTypeBody    = mustSchema(attachTypeSchema)
	toGatewayBody     = mustSchema(toGatewaySchema)
	detachGatewayBody = mustSchema(detachGatewaySchema)
	addReadingBody    = mustSchema(addReadingSchema)
)

// errBodyTooLarge marks a body over the configured limit.
var errBodyTooLarge = stderrors.New("request body too large")

// decode reads the body within the size limit, validates it against schema
// and unmarshals it into dst. Shape violations are InvalidRequest.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, schema *bodySchema, dst any) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.config.MaxRequestSize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if stderrors.As(err, &tooLarge) {
			return errBodyTooLarge
		}
		return domain.InvalidRequest("failed to read request body")
	}

	result, err := schema.schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return domain.InvalidRequest("malformed JSON body")
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return domain.InvalidRequest("%s", strings.Join(msgs, "; "))
	}

	if err := json.Unmarshal(body, dst); err != nil {
		return domain.InvalidRequest("malformed JSON body")
	}
	return nil
}

// failDecode reports a decode error.
func (s *Server) failDecode(w http.ResponseWriter, r *http.Request, err error) {
	if stderrors.Is(err, errBodyTooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge,
			fmt.Sprintf("request body exceeds maximum size of %d bytes", s.config.MaxRequestSize))
		return
	}
	s.fail(w, r, err, http.StatusBadRequest)
}

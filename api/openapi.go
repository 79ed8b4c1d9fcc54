package api

import (
	"encoding/json"
	"net/http"
	"regexp"
	"sort"
	"strings"
)

// Version is reported in the OpenAPI document. Set at build time by cmd.
var Version = "dev"

// OpenAPIDocument is the subset of OpenAPI 3.0 the server publishes.
type OpenAPIDocument struct {
	OpenAPI string              `json:"openapi"`
	Info    InfoSpec            `json:"info"`
	Paths   map[string]PathSpec `json:"paths"`
	Tags    []TagSpec           `json:"tags,omitempty"`
}

// InfoSpec contains API metadata
type InfoSpec struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Version     string `json:"version"`
}

// PathSpec defines HTTP operations for a specific path
type PathSpec struct {
	GET  *OperationSpec `json:"get,omitempty"`
	POST *OperationSpec `json:"post,omitempty"`
	PUT  *OperationSpec `json:"put,omitempty"`
}

// OperationSpec defines a single HTTP operation
type OperationSpec struct {
	Summary     string                  `json:"summary"`
	Parameters  []ParameterSpec         `json:"parameters,omitempty"`
	RequestBody *RequestBodySpec        `json:"requestBody,omitempty"`
	Responses   map[string]ResponseSpec `json:"responses"`
	Tags        []string                `json:"tags,omitempty"`
}

// ParameterSpec defines an operation parameter
type ParameterSpec struct {
	Name     string `json:"name"`
	In       string `json:"in"` // "query", "path", "header"
	Required bool   `json:"required,omitempty"`
	Schema   Schema `json:"schema"`
}

// RequestBodySpec describes a JSON request body
type RequestBodySpec struct {
	Required bool                     `json:"required"`
	Content  map[string]MediaTypeSpec `json:"content"`
}

// MediaTypeSpec holds the schema for one content type
type MediaTypeSpec struct {
	Schema json.RawMessage `json:"schema"`
}

// ResponseSpec defines an operation response
type ResponseSpec struct {
	Description string `json:"description"`
}

// Schema defines a parameter schema
type Schema struct {
	Type   string `json:"type"`
	Format string `json:"format,omitempty"`
}

// TagSpec defines an API tag for grouping operations
type TagSpec struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

var pathParam = regexp.MustCompile(`\{([^}]+)\}`)

// idParams are path parameters holding numeric ids.
var idParams = map[string]bool{"id": true, "gid": true, "sid": true}

// OpenAPI builds the document for the server's routes.
func (s *Server) OpenAPI() OpenAPIDocument {
	doc := OpenAPIDocument{
		OpenAPI: "3.0.3",
		Info: InfoSpec{
			Title:       "sensorgraph",
			Description: "Gateways, sensors, sensor types and last readings",
			Version:     Version,
		},
		Paths: make(map[string]PathSpec),
	}

	tags := map[string]bool{}
	for _, rt := range s.routes {
		op := &OperationSpec{
			Summary:   rt.summary,
			Responses: make(map[string]ResponseSpec, len(rt.responses)),
			Tags:      []string{rt.tag},
		}
		tags[rt.tag] = true
		for code, desc := range rt.responses {
			op.Responses[code] = ResponseSpec{Description: desc}
		}
		for _, m := range pathParam.FindAllStringSubmatch(rt.path, -1) {
			schema := Schema{Type: "string"}
			if idParams[m[1]] {
				schema = Schema{Type: "integer", Format: "int64"}
			}
			op.Parameters = append(op.Parameters, ParameterSpec{Name: m[1], In: "path", Required: true, Schema: schema})
		}
		if rt.body != nil {
			op.RequestBody = &RequestBodySpec{
				Required: true,
				Content: map[string]MediaTypeSpec{
					"application/json": {Schema: json.RawMessage(rt.body.source)},
				},
			}
		}

		item := doc.Paths[rt.path]
		switch rt.method {
		case http.MethodGet:
			item.GET = op
		case http.MethodPost:
			item.POST = op
		case http.MethodPut:
			item.PUT = op
		}
		doc.Paths[rt.path] = item
	}

	names := make([]string, 0, len(tags))
	for name := range tags {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		doc.Tags = append(doc.Tags, TagSpec{Name: name, Description: strings.ToUpper(name[:1]) + name[1:]})
	}
	return doc
}

func (s *Server) openAPI(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.OpenAPI())
}

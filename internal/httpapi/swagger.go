//go:build swagger

package httpapi

import (
	"github.com/go-chi/chi/v5"
	httpSwagger "github.com/swaggo/http-swagger"
	"github.com/swaggo/swag"
)

// docTemplate is a hand-maintained outline; `swag init -g cmd/enginegate/docs.go`
// regenerates the full document from handler annotations.
const docTemplate = `{
  "swagger": "2.0",
  "info": {"title": "{{.Title}}", "description": "{{escape .Description}}", "version": "{{.Version}}"},
  "basePath": "{{.BasePath}}",
  "schemes": {{ marshal .Schemes }},
  "paths": {
    "/v1/infer": {"post": {"tags": ["inference"], "summary": "Run an inference request"}},
    "/v1/backends": {
      "get": {"tags": ["backends"], "summary": "List registered backends"},
      "post": {"tags": ["backends"], "summary": "Load or attach a backend"}
    },
    "/v1/backends/{id}": {
      "get": {"tags": ["backends"], "summary": "Show one backend"},
      "delete": {"tags": ["backends"], "summary": "Unload a backend"}
    },
    "/status": {"get": {"tags": ["status"], "summary": "Server, backend and budget status"}}
  }
}`

var swaggerInfo = &swag.Spec{
	Version:          "1.0",
	BasePath:         "/",
	Schemes:          []string{"http"},
	Title:            "enginegate API",
	Description:      "Routing and lifecycle gateway for vLLM, TGI and TensorRT engines.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
}

func init() {
	swag.Register(swaggerInfo.InstanceName(), swaggerInfo)
}

// MountSwagger serves the UI under /swagger/.
func MountSwagger(r chi.Router) {
	r.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL("/swagger/doc.json")))
}

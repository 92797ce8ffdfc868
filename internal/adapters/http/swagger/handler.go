// Package swagger serves the API description documents.
package swagger

import (
	"context"
	"net/http"

	"github.com/okian/caretd/pkg/bridge"
)

// Register attaches the API description routes to mux.
// Routes:
//
//	GET /openapi.yaml             -> embedded OpenAPI document
//	GET /schema/event.schema.json -> JSON Schema for event bodies
//	GET /api-docs                 -> index page linking both
func Register(_ context.Context, mux *http.ServeMux) {
	if mux == nil {
		panic("mux is nil")
	}

	mux.HandleFunc("GET /api-docs", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(indexHTML))
	})

	mux.HandleFunc("GET /openapi.yaml", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/yaml; charset=utf-8")
		_, _ = w.Write(OpenAPI)
	})

	schema := bridge.EventSchema()
	mux.HandleFunc("GET /schema/event.schema.json", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/schema+json")
		_, _ = w.Write(schema)
	})
}

const indexHTML = `<!doctype html>
<html>
  <head>
    <meta charset="utf-8">
    <title>caretd API</title>
  </head>
  <body>
    <h1>caretd API</h1>
    <ul>
      <li><a href="/openapi.yaml">OpenAPI document</a></li>
      <li><a href="/schema/event.schema.json">Event JSON Schema</a></li>
    </ul>
  </body>
</html>`

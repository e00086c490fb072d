// Package api carries the OpenAPI document so the binary can serve it
// without shipping files alongside.
package api

import _ "embed"

// OpenAPISpec is the OpenAPI 3.1 YAML served at GET /openapi.yaml.
//
//go:embed openapi.yaml
var OpenAPISpec []byte

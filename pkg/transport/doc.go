// Package transport provides the HTTP middleware chain and error
// serialization for the stride server.
//
// The transport layer bridges external clients and the identity
// pipeline. Cross-cutting concerns live here as net/http middleware:
// panic recovery, request ID assignment (X-Request-ID), and structured
// request logging via log/slog. The authentication gateway and the
// delegation resolver are middleware too, but they live next to the
// logic they guard in pkg/auth and pkg/access.
//
// # Error Serialization
//
// Handlers surface failures as *api.APIError values. WriteAPIError maps
// the error type to its HTTP status code and writes the JSON error
// envelope. Authentication failures always serialize to the same
// generic unauthorized body regardless of which credential was
// examined.
package transport

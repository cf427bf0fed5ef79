// Package requestid attaches a correlation id to every HTTP request.
//
// Middleware reads X-Request-ID (reusing it when it is at most 128 characters
// of [a-zA-Z0-9_-]) or generates a UUIDv7, stores it in the request context
// and echoes it back. Extractor plugs the id into the logger:
//
//	log := logger.New(logger.WithContextExtractors(requestid.Extractor()))
//	r.Use(requestid.Middleware)
package requestid

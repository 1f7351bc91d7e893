// Package server provides the HTTP server for the voxpipe service, built on
// Gin with HTTP/2 cleartext (h2c) support so the REST API and the SSE event
// stream share one port.
//
// The server follows the component pattern with lifecycle management, a
// health endpoint aggregating component statuses, and a standard middleware
// stack (recovery, request id, CORS, body size limit, request logging)
// applied at the handler level so it covers every mounted route.
package server

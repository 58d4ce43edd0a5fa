// Package httpapi exposes the relay over HTTP: signed webhook receipt,
// producer event publishing, and the pull inbox with acknowledgments.
//
// Handlers translate relay errors into the shared envelope; the status code
// comes from the error category, so transports never re-map store semantics.
package httpapi

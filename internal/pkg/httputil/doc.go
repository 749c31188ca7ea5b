// Package httputil holds the JSON response and request helpers shared by
// the lifecycle API handlers, including the mapping from domain errors to
// HTTP status codes.
package httputil

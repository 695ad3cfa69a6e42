// Package httputil holds the JSON response and request helpers shared by the
// ops API handlers. Error bodies always use ErrorResponse, and 5xx details
// go to the log, never to the client.
package httputil

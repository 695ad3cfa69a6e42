// Package credential keeps a subscriber's analytics access token usable.
//
// EnsureFresh refreshes an expired token through the injected Refresher and
// persists the result before the metrics fetch runs. PersistRotated stores a
// token the fetch collaborator rotated on its own, so the stored connection
// always matches the token used for the last successful fetch.
package credential

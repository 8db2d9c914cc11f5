// Package xhttp provides http helpers shared by the registry surface and the
// pinning backend clients.
package xhttp

import "net/http"

// Client is the interface of a http client.
type Client interface {
	Do(*http.Request) (*http.Response, error)
}

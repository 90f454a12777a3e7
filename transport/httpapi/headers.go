package httpapi

import "github.com/anatolykoptev/go-dbc/transport"

// dbcHeaders returns the base headers for every API call.
func dbcHeaders(contentType string) map[string]string {
	h := map[string]string{
		"accept":     "application/json",
		"user-agent": transport.APIVersion,
		"expect":     "",
	}
	if contentType != "" {
		h["content-type"] = contentType
	}
	return h
}

// dbcHeaderOrder keeps header order stable across requests.
var dbcHeaderOrder = []string{
	"accept",
	"content-type",
	"expect",
	"user-agent",
}

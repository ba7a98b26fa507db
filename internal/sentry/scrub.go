// Package sentry strips credentials from Sentry events before they leave the
// process. Access tokens travel in the Authorization header for REST calls and
// in the query string for websocket handshakes, so both are filtered.
package sentry

import (
	"net/url"
	"strings"

	"github.com/getsentry/sentry-go"
)

const filtered = "[Filtered]"

var sensitiveHeaders = map[string]bool{
	"authorization": true,
	"cookie":        true,
	"set-cookie":    true,
}

// sensitiveKeys are matched case-insensitively against tags, breadcrumb data,
// extra fields and query parameters.
var sensitiveKeys = map[string]bool{
	"password":      true,
	"password_hash": true,
	"token":         true,
	"access_token":  true,
	"refresh_token": true,
	"secret":        true,
	"jwt":           true,
	"authorization": true,
	"cookie":        true,
}

func isSensitive(key string) bool {
	return sensitiveKeys[strings.ToLower(key)]
}

// ScrubEvent is installed as BeforeSend. It redacts sensitive headers and
// query parameters, drops request bodies and filters tagged values.
func ScrubEvent(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
	if req := event.Request; req != nil {
		for header := range req.Headers {
			if sensitiveHeaders[strings.ToLower(header)] {
				req.Headers[header] = filtered
			}
		}
		// Login and refresh bodies carry credentials.
		req.Data = ""
		req.Cookies = ""
		req.QueryString = scrubQuery(req.QueryString)
		if u, err := url.Parse(req.URL); err == nil && u.RawQuery != "" {
			u.RawQuery = scrubQuery(u.RawQuery)
			req.URL = u.String()
		}
	}

	for key := range event.Tags {
		if isSensitive(key) {
			event.Tags[key] = filtered
		}
	}
	for key := range event.Extra {
		if isSensitive(key) {
			event.Extra[key] = filtered
		}
	}
	for _, crumb := range event.Breadcrumbs {
		for key := range crumb.Data {
			if isSensitive(key) {
				crumb.Data[key] = filtered
			}
		}
	}

	return event
}

// ScrubTransaction is installed as BeforeSendTransaction.
func ScrubTransaction(event *sentry.Event, hint *sentry.EventHint) *sentry.Event {
	return ScrubEvent(event, hint)
}

func scrubQuery(raw string) string {
	if raw == "" {
		return raw
	}
	values, err := url.ParseQuery(raw)
	if err != nil {
		// Unparseable query strings are dropped rather than forwarded.
		return ""
	}
	changed := false
	for key := range values {
		if isSensitive(key) {
			values[key] = []string{filtered}
			changed = true
		}
	}
	if !changed {
		return raw
	}
	return values.Encode()
}

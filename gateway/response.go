package gateway

import (
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// Synthesize returns an HTTP-shaped response carrying a plain text message.
func Synthesize(status int, message string) *Response {
	if message == "" {
		message = http.StatusText(status)
	}

	return &Response{
		Status:  status,
		Headers: map[string]string{"content-type": "text/plain; charset=utf-8"},
		Body:    []byte(message),
	}
}

var startingPage = `<!doctype html>
<html>
<head><title>Paper Gateway</title></head>
<body style="font-family:sans-serif;text-align:center;padding-top:4em">
<h1>Starting up&hellip;</h1>
<p>The gateway for this domain is not attached yet. Retrying in %d seconds.</p>
</body>
</html>`

// ServiceStarting is the degraded response served while the primary context
// is unreachable, with a short retry hint instead of a hard failure.
func ServiceStarting(retryAfter time.Duration) *Response {
	secs := int(retryAfter / time.Second)
	if secs < 1 {
		secs = 1
	}

	return &Response{
		Status: http.StatusServiceUnavailable,
		Headers: map[string]string{
			"content-type": "text/html; charset=utf-8",
			"retry-after":  strconv.Itoa(secs),
		},
		Body: []byte(fmt.Sprintf(startingPage, secs)),
	}
}

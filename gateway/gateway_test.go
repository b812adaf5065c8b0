package gateway

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func Test_CanonicalDomain(t *testing.T) {
	assert.Equal(t, "library.paper", CanonicalDomain("Library.PAPER"))
	assert.Equal(t, "library.paper", CanonicalDomain("library.paper."))
	assert.Equal(t, "library.paper", CanonicalDomain("library.paper:8053"))
	assert.Equal(t, "::1", CanonicalDomain("::1"))
	assert.Equal(t, "::1", CanonicalDomain("[::1]"))
	assert.Equal(t, "::1", CanonicalDomain("[::1]:8053"))
	assert.Equal(t, "", CanonicalDomain(""))
}

func Test_NewID(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NewID()
		assert.Len(t, id, 32)
		assert.False(t, seen[id])
		seen[id] = true
	}
}

func Test_Synthesize(t *testing.T) {
	resp := Synthesize(404, "not found")

	assert.Equal(t, 404, resp.Status)
	assert.Equal(t, "not found", string(resp.Body))
	assert.Equal(t, "text/plain; charset=utf-8", resp.Headers["content-type"])
}

func Test_ServiceStarting(t *testing.T) {
	resp := ServiceStarting(3 * time.Second)

	assert.Equal(t, 503, resp.Status)
	assert.Equal(t, "3", resp.Headers["retry-after"])
	assert.Contains(t, string(resp.Body), "Starting up")
}

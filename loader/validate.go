package loader

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/zeebo/blake3"
)

// validate checks that a payload is structurally plausible as an interception
// agent and returns its digest. A non-empty want pins the expected digest.
func validate(payload []byte, want string) (string, error) {
	if len(payload) < minPayloadSize {
		return "", fmt.Errorf("payload too small: %d bytes", len(payload))
	}

	body := string(payload)
	for _, marker := range []string{markerEvents, markerFetch, markerInstall} {
		if !strings.Contains(body, marker) {
			return "", fmt.Errorf("payload missing capability marker %q", marker)
		}
	}

	sum := blake3.Sum256(payload)
	digest := hex.EncodeToString(sum[:])

	if want != "" && !strings.EqualFold(digest, want) {
		return "", fmt.Errorf("payload digest mismatch: got %s want %s", digest, want)
	}

	return digest, nil
}

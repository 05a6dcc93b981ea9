package sandbox

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
)

// The isolated strategy has the guest JSON-serialize its result and print it
// between unique sentinel markers. A per-execution nonce makes the markers
// vanishingly unlikely to occur in guest output, and scanning for the pair
// defeats any truncation or interleaved noise on the output channel.
// Marker absence is a distinct failure from JSON-parse failure.

type markerPair struct {
	begin string
	end   string
}

// newMarkerPair generates sentinel markers with a fresh random nonce.
func newMarkerPair() markerPair {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	nonce := hex.EncodeToString(buf)
	return markerPair{
		begin: fmt.Sprintf("__FINPARSE_BEGIN_%s__", nonce),
		end:   fmt.Sprintf("__FINPARSE_END_%s__", nonce),
	}
}

// extract returns the payload between the markers. found is false when the
// pair is absent or malformed (begin after end, missing end).
func (m markerPair) extract(output string) (payload string, found bool) {
	start := strings.Index(output, m.begin)
	if start < 0 {
		return "", false
	}
	rest := output[start+len(m.begin):]
	end := strings.Index(rest, m.end)
	if end < 0 {
		return "", false
	}
	return strings.TrimSpace(rest[:end]), true
}

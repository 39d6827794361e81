package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Key computes the cache fingerprint for one synthesis request. It covers
// every input that affects the produced audio: the exact text sent to the
// engine, the engine and voice identifiers, and the speech parameters. Equal
// inputs always produce equal keys across processes; any differing parameter
// changes the key.
func Key(text, engine, voice string, rate, pitch float64) string {
	h := sha256.New()
	fmt.Fprintf(h, "%d|%s|", len(text), text)
	fmt.Fprintf(h, "%s|%s|%.4f|%.4f", engine, voice, rate, pitch)
	return hex.EncodeToString(h.Sum(nil)[:16])
}

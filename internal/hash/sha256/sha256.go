// Package sha256 fingerprints reviews with SHA-256.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"

	"github.com/JakeFAU/review-notifier/internal/tracker"
)

// Hasher implements tracker.Fingerprinter using SHA-256.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash hashes the input and returns a hex digest.
func (h *Hasher) Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Fingerprint digests the owner, place name, star rating and body of r. Two
// reviews that tracker.Differs considers equal share a fingerprint.
func (h *Hasher) Fingerprint(r tracker.Review) string {
	buf := make([]byte, 0, 64+len(r.PlaceName)+len(r.Body()))
	buf = strconv.AppendInt(buf, r.OwnerID, 10)
	buf = append(buf, 0)
	buf = append(buf, r.PlaceName...)
	buf = append(buf, 0)
	buf = strconv.AppendInt(buf, int64(r.StarRating), 10)
	buf = append(buf, 0)
	buf = append(buf, r.Body()...)
	return h.Hash(buf)
}

package payload

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes keep fingerprints of different action kinds apart even when
// their canonical text happens to coincide.
const (
	DomainDiscussion  = "learnsync/forum-discussion/v1"
	DomainReply       = "learnsync/forum-reply/v1"
	DomainPageAttempt = "learnsync/lesson-page/v1"
	DomainRetake      = "learnsync/lesson-retake/v1"
	DomainFeedback    = "learnsync/assign-feedback/v1"
)

// Fingerprint returns SHA256(domain || 0x00 || Encode(v)) as hex. It is stable
// across processes and is sent with each submission as an idempotency key so a
// retried submission can be recognized by the remote service.
func Fingerprint(domain string, v Value) (string, error) {
	data, err := encode(v)
	if err != nil {
		return "", fmt.Errorf("fingerprint: %w", err)
	}

	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// MustFingerprint is like Fingerprint but panics on error.
// Use only with values built in code.
func MustFingerprint(domain string, v Value) string {
	fp, err := Fingerprint(domain, v)
	if err != nil {
		panic(err)
	}
	return fp
}

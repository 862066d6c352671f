package slack

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"
)

// MaxTimestampSkew bounds how old a signed request may be. Older requests
// are rejected to blunt replay attacks.
const MaxTimestampSkew = 5 * time.Minute

const signatureVersion = "v0"

// VerifySignature checks a request's v0 HMAC-SHA256 signature against the
// signing secret. The timestamp header must be within MaxTimestampSkew of
// the current time.
func VerifySignature(signingSecret, timestamp, signature string, body []byte) error {
	return verifySignatureAt(signingSecret, timestamp, signature, body, time.Now())
}

func verifySignatureAt(signingSecret, timestamp, signature string, body []byte, now time.Time) error {
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid request timestamp: %w", err)
	}

	skew := now.Sub(time.Unix(ts, 0))
	if skew < 0 {
		skew = -skew
	}
	if skew > MaxTimestampSkew {
		return fmt.Errorf("request timestamp outside allowed window")
	}

	expected := computeSignature(signingSecret, timestamp, body)
	if subtle.ConstantTimeCompare([]byte(signature), []byte(expected)) != 1 {
		return fmt.Errorf("signature mismatch")
	}
	return nil
}

func computeSignature(signingSecret, timestamp string, body []byte) string {
	base := signatureVersion + ":" + timestamp + ":" + string(body)
	h := hmac.New(sha256.New, []byte(signingSecret))
	h.Write([]byte(base))
	return signatureVersion + "=" + hex.EncodeToString(h.Sum(nil))
}

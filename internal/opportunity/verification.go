package opportunity

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// VerificationHash derives the evidentiary hash stored with an endorsement:
// SHA-256 over "opportunityID:phone:unixMillis". It proves nothing
// cryptographically; it just makes an endorsement reproducible evidence.
func VerificationHash(opportunityID, phone string, at time.Time) string {
	data := fmt.Sprintf("%s:%s:%d", opportunityID, phone, at.UnixMilli())
	sum := sha256.Sum256([]byte(data))
	return hex.EncodeToString(sum[:])
}

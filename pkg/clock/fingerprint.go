package clock

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

// unitSeparator delimits the fields hashed into a Fingerprint, matching the
// ASCII unit separator (0x1f) so no production field value can collide with
// the delimiter itself.
const unitSeparator = '\x1f'

// Fingerprint computes the idempotency key the MES uses to deduplicate
// increment uploads: a 16-hex-char prefix of SHA-256 over
// orderCode || 0x1f || upc || 0x1f || occurredAtRFC3339 || 0x1f || stationId.
func Fingerprint(orderCode, upc, occurredAtRFC3339 string, stationID int) string {
	buf := make([]byte, 0, len(orderCode)+len(upc)+len(occurredAtRFC3339)+16)
	buf = append(buf, orderCode...)
	buf = append(buf, unitSeparator)
	buf = append(buf, upc...)
	buf = append(buf, unitSeparator)
	buf = append(buf, occurredAtRFC3339...)
	buf = append(buf, unitSeparator)
	buf = strconv.AppendInt(buf, int64(stationID), 10)

	sum := sha256.Sum256(buf)
	return hex.EncodeToString(sum[:])[:16]
}

package audit

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"
)

// hashPayload is the canonical serialization the integrity hash covers. All
// fields are structs or scalars (no maps) so json.Marshal field order is
// deterministic and the digest reproducible.
type hashPayload struct {
	Table    string      `json:"table"`
	RecordID string      `json:"record_id"`
	Action   string      `json:"action"`
	At       string      `json:"at"`
	Actor    int64       `json:"actor"`
	Diffs    []FieldDiff `json:"diffs"`
}

// computeIntegrityHash digests the record's immutable fields with
// HMAC-SHA256 under the writer's key. Diffs are sorted by field name so
// caller ordering cannot change the digest.
func computeIntegrityHash(key []byte, tableName, recordID, action string, at time.Time, actorID int64, diffs []FieldDiff) string {
	sorted := make([]FieldDiff, len(diffs))
	copy(sorted, diffs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Field < sorted[j].Field })

	payload := hashPayload{
		Table:    tableName,
		RecordID: recordID,
		Action:   action,
		At:       at.UTC().Format(time.RFC3339Nano),
		Actor:    actorID,
		Diffs:    sorted,
	}
	data, _ := json.Marshal(payload)

	mac := hmac.New(sha256.New, key)
	_, _ = mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil))
}

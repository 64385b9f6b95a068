package imageprune

import (
	"encoding/json"
	"time"
)

// ============================================================================
// Database Key Namespace Design
// ============================================================================
//
// The store keeps one record per image reference. Keys are prefixed so the
// namespace can grow without collisions and so candidate scans are a single
// prefix iteration.
//
// Data Type      Prefix   Key Format     Value Type
// =========================================================
// Image Usage    "img:"   img:<ref>      usageRecord (JSON)

const prefixImage = "img:"

// keyImage generates a key for an image usage record: "img:<ref>"
func keyImage(ref string) []byte {
	return []byte(prefixImage + ref)
}

// usageRecord tracks when an image was first and last used by a module.
type usageRecord struct {
	Ref       string    `json:"ref"`
	FirstSeen time.Time `json:"first_seen"`
	LastUsed  time.Time `json:"last_used"`
}

func encodeRecord(rec *usageRecord) ([]byte, error) {
	return json.Marshal(rec)
}

func decodeRecord(data []byte) (*usageRecord, error) {
	var rec usageRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

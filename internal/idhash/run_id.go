package idhash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// ComputeRunID computes a deterministic run_id using SHA256.
// Formula: SHA256(kind|config_id|from|to|market_ids)
// Returns hex-encoded hash (64 characters).
func ComputeRunID(
	kind string,
	configID string,
	from int64,
	to int64,
	marketIDs []string,
) string {
	data := fmt.Sprintf("%s|%s|%d|%d|%s",
		kind,
		configID,
		from,
		to,
		strings.Join(marketIDs, ","),
	)

	hash := sha256.Sum256([]byte(data))
	return hex.EncodeToString(hash[:])
}

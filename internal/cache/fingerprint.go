package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/scrapeworks/osint-worker/api/types"
)

// Fingerprint computes the deterministic cache and single-flight key for an
// operation. It is a pure function of the operation type and the normalized
// parameters: usernames and queries are trimmed and lowercased, only the
// fields meaningful to the operation contribute, and keys marshal in a
// stable order. Semantically identical requests always collide.
func Fingerprint(op types.OperationType, p types.Parameters) string {
	canonical := map[string]any{"op": string(op)}
	switch op {
	case types.OperationSearchUser:
		canonical["query"] = normalize(p.Query)
		canonical["limit"] = p.Limit
	case types.OperationFollowing, types.OperationFollowers:
		canonical["username"] = normalize(p.Username)
		canonical["limit"] = p.Limit
	case types.OperationTimeline:
		canonical["username"] = normalize(p.Username)
		canonical["count"] = p.Count
		canonical["include_analysis"] = p.IncludeAnalysis
	}

	// json.Marshal emits map keys in sorted order, so the digest is stable
	// regardless of insertion order.
	data, _ := json.Marshal(canonical)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

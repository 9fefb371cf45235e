package state

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/hugo-lorenzo-mato/rehab-flow/internal/core"
)

// checksum hashes the JSON encoding of a run result.
func checksum(result *core.RunResult) (string, []byte, error) {
	data, err := json.Marshal(result)
	if err != nil {
		return "", nil, fmt.Errorf("marshaling run: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), data, nil
}

func verify(id core.RunID, want string, result *core.RunResult) error {
	got, _, err := checksum(result)
	if err != nil {
		return err
	}
	if got != want {
		return core.ErrState(core.CodeChecksumMismatch, fmt.Sprintf("run %s failed checksum verification", id))
	}
	return nil
}

func notFound(id core.RunID) error {
	return core.ErrState(core.CodeRunNotFound, fmt.Sprintf("run %s not found", id))
}

// normalized returns a shallow copy of result with UTC timestamps and an
// empty history as nil, which is the form a relational round trip yields.
func normalized(result *core.RunResult) *core.RunResult {
	out := *result
	out.StartedAt = result.StartedAt.UTC()
	out.FinishedAt = result.FinishedAt.UTC()
	out.History = nil
	for _, h := range result.History {
		h.At = h.At.UTC()
		out.History = append(out.History, h)
	}
	if len(out.Warnings) == 0 {
		out.Warnings = nil
	}
	return &out
}

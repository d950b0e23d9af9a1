package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// Fingerprint derives a stable content hash identifying a semantically
// unique (process, inputs, requested outputs) request. The encoding is
// canonical: map keys are serialized in sorted order (encoding/json
// guarantees this for maps at every nesting level) and the requested
// output list is sorted before hashing, so reordered but equivalent
// requests always collide. Requested outputs are part of the key: two
// requests differing only in the outputs they ask for must not share a
// cache entry.
func Fingerprint(processID string, inputs map[string]any, outputs []string) (string, error) {
	encodedInputs, err := json.Marshal(inputs)
	if err != nil {
		return "", fmt.Errorf("%w: encoding inputs for fingerprint: %v", ErrInternal, err)
	}

	sortedOutputs := make([]string, len(outputs))
	copy(sortedOutputs, outputs)
	sort.Strings(sortedOutputs)
	encodedOutputs, err := json.Marshal(sortedOutputs)
	if err != nil {
		return "", fmt.Errorf("%w: encoding outputs for fingerprint: %v", ErrInternal, err)
	}

	h := sha256.New()
	h.Write([]byte(processID))
	h.Write([]byte{0})
	h.Write(encodedInputs)
	h.Write([]byte{0})
	h.Write(encodedOutputs)
	return hex.EncodeToString(h.Sum(nil)), nil
}

package translate

import "strings"

// BatchSeparator delimits texts joined into one backend request.
const BatchSeparator = "\n---BLOCK_SEPARATOR---\n"

// MergeBatches groups texts into batches of at most maxUnits texts and
// maxChars characters, separators included. A text longer than maxChars gets
// a batch of its own. Order is preserved and every text lands in exactly one
// batch.
func MergeBatches(texts []string, maxUnits, maxChars int) [][]string {
	if len(texts) == 0 {
		return nil
	}
	if maxUnits <= 0 {
		maxUnits = DefaultMaxBatchUnits
	}
	if maxChars <= 0 {
		maxChars = DefaultMaxBatchChars
	}

	var batches [][]string
	var current []string
	size := 0
	flush := func() {
		if len(current) > 0 {
			batches = append(batches, current)
			current, size = nil, 0
		}
	}

	for _, text := range texts {
		n := len(text)
		if n >= maxChars {
			flush()
			batches = append(batches, []string{text})
			continue
		}
		add := n
		if len(current) > 0 {
			add += len(BatchSeparator)
		}
		if size+add > maxChars || len(current) >= maxUnits {
			flush()
			add = n
		}
		current = append(current, text)
		size += add
	}
	flush()
	return batches
}

// JoinBatch concatenates texts with BatchSeparator.
func JoinBatch(texts []string) string {
	return strings.Join(texts, BatchSeparator)
}

// SplitBatch splits a joined response back into want parts. Models often
// drop the surrounding newlines, so the bare marker is accepted too.
func SplitBatch(s string, want int) ([]string, error) {
	marker := strings.TrimSpace(BatchSeparator)
	parts := strings.Split(s, marker)
	if len(parts) != want {
		return nil, &MismatchError{Want: want, Got: len(parts)}
	}
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts, nil
}

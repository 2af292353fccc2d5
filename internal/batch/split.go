// Package batch partitions requested id sets into quota-compliant chunks.
package batch

// Split deduplicates ids (first occurrence wins, relative order preserved)
// and chunks the result into consecutive groups of at most maxSize.
// Concatenating the groups in order reproduces the deduplicated input.
func Split(ids []string, maxSize int) [][]string {
	if maxSize < 1 || len(ids) == 0 {
		return nil
	}

	seen := make(map[string]struct{}, len(ids))
	deduped := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		deduped = append(deduped, id)
	}

	groups := make([][]string, 0, (len(deduped)+maxSize-1)/maxSize)
	for start := 0; start < len(deduped); start += maxSize {
		end := start + maxSize
		if end > len(deduped) {
			end = len(deduped)
		}
		groups = append(groups, deduped[start:end])
	}
	return groups
}

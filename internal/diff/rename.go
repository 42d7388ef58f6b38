package diff

import (
	"bytes"
	"sort"
)

// RenameLink is an advisory link between a deleted path and an added path
// whose contents are similar. The repository records authoritative renames
// only when the write path uses an explicit rename; these links are derived
// metadata for revisions that deleted and re-added content instead.
type RenameLink struct {
	From  string
	To    string
	Score float64
}

// Similarity returns the shared-line ratio between two contents in [0, 1],
// computed as the LCS length over the mean line count.
func Similarity(a, b []byte) float64 {
	if bytes.Equal(a, b) {
		return 1
	}

	aLines := splitLines(a)
	bLines := splitLines(b)
	if len(aLines) == 0 && len(bLines) == 0 {
		return 1
	}
	if len(aLines) == 0 || len(bLines) == 0 {
		return 0
	}

	shared := suffixLCS(aLines, bLines)[0][0]
	return float64(2*shared) / float64(len(aLines)+len(bLines))
}

// DetectRenames pairs deleted paths with added paths whose similarity meets
// the threshold. Each added path is linked to at most one deleted path, the
// best-scoring one.
func DetectRenames(deleted, added map[string][]byte, threshold float64) []RenameLink {
	var links []RenameLink

	addedPaths := sortedKeys(added)
	deletedPaths := sortedKeys(deleted)

	claimed := make(map[string]bool, len(deleted))
	for _, to := range addedPaths {
		newContent := added[to]
		best := RenameLink{To: to}
		for _, from := range deletedPaths {
			if claimed[from] {
				continue
			}
			score := Similarity(deleted[from], newContent)
			if score >= threshold && score > best.Score {
				best.From = from
				best.Score = score
			}
		}
		if best.From != "" {
			claimed[best.From] = true
			links = append(links, best)
		}
	}

	return links
}

func sortedKeys(m map[string][]byte) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

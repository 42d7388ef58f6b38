// internal/diff/diff.go
package diff

import (
	"bytes"
	"fmt"
)

// Line is a single line in a diff with its type and content.
type Line struct {
	Type    LineType
	Content string
	OldNum  int
	NewNum  int
}

// LineType indicates whether a line was added, removed, or is context.
type LineType int

const (
	Context LineType = iota
	Addition
	Deletion
)

// Result contains the complete diff information. Two identical inputs
// produce a Result with no hunks.
type Result struct {
	Hunks []Hunk
	Stats struct {
		Additions int
		Deletions int
		Changes   int
	}
}

// Hunk is a contiguous section of changes with surrounding context.
type Hunk struct {
	OldStart int
	OldLines int
	NewStart int
	NewLines int
	Lines    []Line
}

// Engine provides diffing capabilities. It holds no mutable state and is safe
// for concurrent use outside any lock.
type Engine struct {
	contextLines int
}

// NewEngine creates a diff engine emitting the given number of context lines
// around each hunk.
func NewEngine(contextLines int) *Engine {
	return &Engine{contextLines: contextLines}
}

type opKind int

const (
	opKeep opKind = iota
	opAdd
	opDel
)

type op struct {
	kind   opKind
	text   string
	oldNum int
	newNum int
}

// Diff generates a line-by-line diff between two contents.
func (e *Engine) Diff(oldContent, newContent []byte) *Result {
	result := &Result{}
	if bytes.Equal(oldContent, newContent) {
		return result
	}

	oldLines := splitLines(oldContent)
	newLines := splitLines(newContent)

	ops := walk(oldLines, newLines, suffixLCS(oldLines, newLines))
	result.Hunks = e.buildHunks(ops)

	for _, hunk := range result.Hunks {
		for _, line := range hunk.Lines {
			switch line.Type {
			case Addition:
				result.Stats.Additions++
			case Deletion:
				result.Stats.Deletions++
			}
		}
	}
	result.Stats.Changes = result.Stats.Additions + result.Stats.Deletions

	return result
}

func splitLines(content []byte) [][]byte {
	if len(content) == 0 {
		return nil
	}
	return bytes.Split(bytes.TrimSuffix(content, []byte{'\n'}), []byte{'\n'})
}

// suffixLCS computes lcs[i][j] = length of the longest common subsequence of
// oldLines[i:] and newLines[j:].
func suffixLCS(oldLines, newLines [][]byte) [][]int {
	m, n := len(oldLines), len(newLines)
	matrix := make([][]int, m+1)
	for i := range matrix {
		matrix[i] = make([]int, n+1)
	}

	for i := m - 1; i >= 0; i-- {
		for j := n - 1; j >= 0; j-- {
			if bytes.Equal(oldLines[i], newLines[j]) {
				matrix[i][j] = matrix[i+1][j+1] + 1
			} else {
				matrix[i][j] = max(matrix[i+1][j], matrix[i][j+1])
			}
		}
	}

	return matrix
}

// walk emits edit operations front to back. On ties it consumes the old side
// first, so matches bind to the earliest line of the older revision.
func walk(oldLines, newLines [][]byte, lcs [][]int) []op {
	ops := make([]op, 0, len(oldLines)+len(newLines))
	i, j := 0, 0
	m, n := len(oldLines), len(newLines)

	for i < m || j < n {
		switch {
		case i < m && j < n && bytes.Equal(oldLines[i], newLines[j]):
			ops = append(ops, op{opKeep, string(oldLines[i]), i + 1, j + 1})
			i++
			j++
		case i < m && (j == n || lcs[i+1][j] >= lcs[i][j+1]):
			ops = append(ops, op{opDel, string(oldLines[i]), i + 1, 0})
			i++
		default:
			ops = append(ops, op{opAdd, string(newLines[j]), 0, j + 1})
			j++
		}
	}

	return ops
}

// buildHunks groups changed ops into hunks with surrounding context lines.
// Changed runs separated by at most 2*contextLines unchanged lines merge into
// one hunk.
func (e *Engine) buildHunks(ops []op) []Hunk {
	var hunks []Hunk
	i := 0
	for i < len(ops) {
		if ops[i].kind == opKeep {
			i++
			continue
		}

		end := i
		for k := i; k < len(ops); k++ {
			if ops[k].kind != opKeep {
				end = k
			} else if k-end > 2*e.contextLines {
				break
			}
		}

		from := max(0, i-e.contextLines)
		to := min(len(ops), end+1+e.contextLines)

		hunk := Hunk{}
		for k := from; k < to; k++ {
			o := ops[k]
			line := Line{Content: o.text, OldNum: o.oldNum, NewNum: o.newNum}
			switch o.kind {
			case opKeep:
				line.Type = Context
				hunk.OldLines++
				hunk.NewLines++
			case opAdd:
				line.Type = Addition
				hunk.NewLines++
			case opDel:
				line.Type = Deletion
				hunk.OldLines++
			}
			if hunk.OldStart == 0 && o.oldNum > 0 {
				hunk.OldStart = o.oldNum
			}
			if hunk.NewStart == 0 && o.newNum > 0 {
				hunk.NewStart = o.newNum
			}
			hunk.Lines = append(hunk.Lines, line)
		}

		hunks = append(hunks, hunk)
		i = to
	}

	return hunks
}

// Format returns a unified-style string representation of the diff.
func (r *Result) Format() string {
	var buf bytes.Buffer

	for _, hunk := range r.Hunks {
		fmt.Fprintf(&buf, "@@ -%d,%d +%d,%d @@\n",
			hunk.OldStart, hunk.OldLines,
			hunk.NewStart, hunk.NewLines)

		for _, line := range hunk.Lines {
			switch line.Type {
			case Addition:
				buf.WriteString("+ ")
			case Deletion:
				buf.WriteString("- ")
			case Context:
				buf.WriteString("  ")
			}
			buf.WriteString(line.Content)
			buf.WriteString("\n")
		}
	}

	return buf.String()
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Engram Contributors

package ingest

import (
	"regexp"
	"strings"
)

// sectionCharLimit caps how many characters a packed section may hold.
const sectionCharLimit = 3000

// paragraphBreak matches one or more blank lines, tolerating trailing
// whitespace on the empty line.
var paragraphBreak = regexp.MustCompile(`\n[ \t]*\n+`)

// SplitSections packs blank-line-separated paragraphs greedily into
// sections of at most sectionCharLimit characters. A single paragraph
// longer than the limit becomes its own oversized section rather than
// being split mid-paragraph.
func SplitSections(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")

	var paragraphs []string
	for _, p := range paragraphBreak.Split(text, -1) {
		p = strings.TrimSpace(p)
		if p != "" {
			paragraphs = append(paragraphs, p)
		}
	}
	if len(paragraphs) == 0 {
		return nil
	}

	var (
		sections []string
		current  strings.Builder
	)
	flush := func() {
		if current.Len() > 0 {
			sections = append(sections, current.String())
			current.Reset()
		}
	}

	for _, p := range paragraphs {
		if len(p) >= sectionCharLimit {
			flush()
			sections = append(sections, p)
			continue
		}
		// +2 accounts for the paragraph separator re-inserted on join.
		if current.Len() > 0 && current.Len()+2+len(p) > sectionCharLimit {
			flush()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(p)
	}
	flush()
	return sections
}

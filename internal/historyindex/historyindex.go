// Package historyindex edits the wiki page that lists past meetups.
//
// The index is treated as plain lines. A new entry goes immediately before
// the first bullet-list line, so anything written above the list (a heading,
// an intro paragraph) stays on top. A document without any bullet line is
// returned unchanged.
package historyindex

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	bulletRe   = regexp.MustCompile(`^(\s*[*+-])\s`)
	wikilinkRe = regexp.MustCompile(`\[\[(.*?)\]\]`)
)

// Entry renders one index line linking to page, followed by date.
func Entry(marker, page, date string) string {
	return fmt.Sprintf("%s [[%s]] %s", marker, page, date)
}

const bom = "\ufeff"

// listItem returns the marker (with indentation) of a bullet-list line, or
// "" when line is not one. Thematic breaks such as "* * *" are not items.
func listItem(line string) string {
	m := bulletRe.FindStringSubmatch(line)
	if m == nil || isThematicBreak(line) {
		return ""
	}
	return m[1]
}

func isThematicBreak(line string) bool {
	s := strings.Join(strings.Fields(line), "")
	if len(s) < 3 {
		return false
	}
	c := s[0]
	if c != '*' && c != '-' && c != '_' {
		return false
	}
	return strings.Count(s, string(c)) == len(s)
}

// Insert places an entry for page before the first bullet line of doc.
// The entry reuses that line's marker and indentation. A leading byte order
// mark stays at the start of the document. It reports whether the entry was
// inserted.
func Insert(doc []byte, page, date string) ([]byte, bool) {
	text := string(doc)
	hasBOM := strings.HasPrefix(text, bom)
	text = strings.TrimPrefix(text, bom)
	lines := strings.SplitAfter(text, "\n")

	var b strings.Builder
	b.Grow(len(doc) + len(page) + len(date) + 8)
	if hasBOM {
		b.WriteString(bom)
	}
	inserted := false
	for _, line := range lines {
		if !inserted {
			body := strings.TrimRight(line, "\r\n")
			if marker := listItem(body); marker != "" {
				eol := line[len(body):]
				if eol == "" {
					eol = "\n"
				}
				b.WriteString(Entry(marker, page, date))
				b.WriteString(eol)
				inserted = true
			}
		}
		b.WriteString(line)
	}
	if !inserted {
		return doc, false
	}
	return []byte(b.String()), true
}

// Links returns the wikilink targets in doc in order of appearance.
// For [[A|B]] both A and B are returned.
func Links(doc []byte) []string {
	var out []string
	for _, m := range wikilinkRe.FindAllStringSubmatch(string(doc), -1) {
		for _, part := range strings.Split(m[1], "|") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

// Contains reports whether a list entry of doc already links to page,
// either by its title or by its hyphenated file stem. Links outside list
// entries do not count.
func Contains(doc []byte, page string) bool {
	stem := strings.ReplaceAll(page, " ", "-")
	text := strings.TrimPrefix(string(doc), bom)
	for _, line := range strings.Split(text, "\n") {
		if listItem(strings.TrimRight(line, "\r")) == "" {
			continue
		}
		for _, l := range Links([]byte(line)) {
			if l == page || l == stem {
				return true
			}
		}
	}
	return false
}

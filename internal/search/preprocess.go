package search

import (
	"bufio"
	"strings"
)

// Flatten turns a markdown reply into plain lines suitable for indexing:
// table rows become space-joined cells, separator rows and code fences
// are dropped, and heading, list and quote markers are stripped.
// Text without markdown structure is returned trimmed.
func Flatten(md string) string {
	var b strings.Builder
	sc := bufio.NewScanner(strings.NewReader(md))
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	writeLine := func(s string) {
		s = strings.TrimSpace(s)
		if s == "" {
			return
		}
		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(s)
	}

	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "```") || strings.HasPrefix(line, "~~~") {
			continue
		}

		// table row: "| ... |"
		if strings.HasPrefix(line, "|") && strings.HasSuffix(line, "|") {
			cols := strings.Split(strings.Trim(line, "|"), "|")
			allSep := true
			cleaned := make([]string, 0, len(cols))
			for _, c := range cols {
				cell := strings.TrimSpace(c)
				if cell != "" {
					cleaned = append(cleaned, cell)
				}
				tmp := strings.ReplaceAll(cell, ":", "")
				tmp = strings.ReplaceAll(tmp, "-", "")
				if strings.TrimSpace(tmp) != "" {
					allSep = false
				}
			}
			if allSep || len(cleaned) == 0 {
				continue
			}
			writeLine(strings.Join(cleaned, " "))
			continue
		}

		writeLine(stripMarker(line))
	}
	if sc.Err() != nil {
		return strings.TrimSpace(md)
	}
	return b.String()
}

func stripMarker(line string) string {
	switch {
	case strings.HasPrefix(line, "#"):
		return strings.TrimLeft(line, "# ")
	case strings.HasPrefix(line, "> "):
		return line[2:]
	case strings.HasPrefix(line, "- "), strings.HasPrefix(line, "* "), strings.HasPrefix(line, "+ "):
		return line[2:]
	}
	return line
}

package engine

import (
	"fmt"
	"strings"
)

const developmentHeader = "## Development"

// UpsertBranchSection inserts a branch link into an issue body following the
// text-patch rule: an existing "## Development" section that already carries
// the URL is left alone; an existing section without it gets a new
// "**Branch:** [name](url)" line appended inside it; a missing section is
// inserted before the footer marker when one is present, else appended to
// the end of the body. The second return reports whether the body changed.
func UpsertBranchSection(body, branchName, branchURL, footerMarker string) (string, bool) {
	if strings.TrimSpace(branchURL) == "" {
		return body, false
	}
	branchLine := fmt.Sprintf("**Branch:** [%s](%s)", branchName, branchURL)

	lines := strings.Split(body, "\n")
	headerAt := -1
	for i, line := range lines {
		if strings.TrimSpace(line) == developmentHeader {
			headerAt = i
			break
		}
	}

	if headerAt >= 0 {
		end := len(lines)
		for i := headerAt + 1; i < len(lines); i++ {
			trimmed := strings.TrimSpace(lines[i])
			if strings.HasPrefix(trimmed, "## ") || (footerMarker != "" && trimmed == footerMarker) {
				end = i
				break
			}
			if strings.Contains(lines[i], branchURL) {
				return body, false
			}
		}
		// Insert ahead of trailing blank lines so the section stays compact.
		at := end
		for at > headerAt+1 && strings.TrimSpace(lines[at-1]) == "" {
			at--
		}
		patched := make([]string, 0, len(lines)+1)
		patched = append(patched, lines[:at]...)
		patched = append(patched, branchLine)
		patched = append(patched, lines[at:]...)
		return strings.Join(patched, "\n"), true
	}

	section := developmentHeader + "\n" + branchLine
	if footerMarker != "" {
		for i, line := range lines {
			if strings.TrimSpace(line) == footerMarker {
				patched := make([]string, 0, len(lines)+3)
				patched = append(patched, lines[:i]...)
				patched = append(patched, section, "")
				patched = append(patched, lines[i:]...)
				return strings.Join(patched, "\n"), true
			}
		}
	}
	if strings.TrimSpace(body) == "" {
		return section, true
	}
	return strings.TrimRight(body, "\n") + "\n\n" + section, true
}

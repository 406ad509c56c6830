package vault

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Task lines follow the common markdown checkbox grammar. A task is linked to
// a remote task when one of its sub-items (a more-deeply-indented line
// immediately below it) carries an inline [remote:: <id>] field.
var (
	taskLineRe     = regexp.MustCompile(`^(\s*)- \[([ xX])\] (.*)$`)
	remoteMarkerRe = regexp.MustCompile(`\[remote::\s*([A-Za-z0-9]+)\]`)
	completionRe   = regexp.MustCompile(` ✅ \d{4}-\d{2}-\d{2}$`)
)

// TaskLine is one parsed checkbox line.
type TaskLine struct {
	// Indent is the line's indentation depth in columns (tab = 4).
	Indent int
	// Completed is true for [x] and [X] markers.
	Completed bool
	// Text is everything after the checkbox marker.
	Text string
}

// LinkedTask is a task line that carries a remote-link marker in its
// sub-items. Only linked tasks are tracked; this bounds the cost of every
// sync step to the number of linked tasks, not the size of the vault.
type LinkedTask struct {
	// Line is the zero-based line number of the task line itself.
	Line int
	// RemoteID is the marker's id, exactly as written (may be legacy form).
	RemoteID string
	// Completed mirrors the checkbox state.
	Completed bool
	// Raw is the task line's full text, used for content fingerprinting.
	Raw string
}

// ParseTaskLine parses a single line as a checkbox task.
func ParseTaskLine(line string) (TaskLine, bool) {
	m := taskLineRe.FindStringSubmatch(line)
	if m == nil {
		return TaskLine{}, false
	}
	return TaskLine{
		Indent:    indentWidth(m[1]),
		Completed: m[2] == "x" || m[2] == "X",
		Text:      m[3],
	}, true
}

// ScanLinkedTasks finds every linked task in a document.
//
// For each task line, the immediately following more-deeply-indented lines
// are scanned for a remote-link marker. The scan of a task's sub-items stops
// at the first line whose indentation is at or below the task's own.
func ScanLinkedTasks(lines []string) []LinkedTask {
	var linked []LinkedTask

	for i, line := range lines {
		task, ok := ParseTaskLine(line)
		if !ok {
			continue
		}

		for j := i + 1; j < len(lines); j++ {
			sub := lines[j]
			if strings.TrimSpace(sub) == "" {
				continue
			}
			if indentWidth(leadingWhitespace(sub)) <= task.Indent {
				break
			}
			if m := remoteMarkerRe.FindStringSubmatch(sub); m != nil {
				linked = append(linked, LinkedTask{
					Line:      i,
					RemoteID:  m[1],
					Completed: task.Completed,
					Raw:       line,
				})
				break
			}
		}
	}

	return linked
}

// CompleteLine rewrites a task line's checkbox to the completed marker.
// Lines that are not open task lines are returned unchanged.
func CompleteLine(line string) string {
	task, ok := ParseTaskLine(line)
	if !ok || task.Completed {
		return line
	}
	return strings.Replace(line, "- [ ]", "- [x]", 1)
}

// AppendCompletionDate appends a ✅ YYYY-MM-DD annotation to a task line.
// Lines that already carry one are returned unchanged.
func AppendCompletionDate(line string, completedAt time.Time) string {
	if completionRe.MatchString(line) {
		return line
	}
	return fmt.Sprintf("%s ✅ %s", line, completedAt.Format("2006-01-02"))
}

// RemoteMarkerLine renders the sub-item line linking a task to a remote id,
// indented one level below the given task indentation.
func RemoteMarkerLine(taskIndent int, remoteID string) string {
	return fmt.Sprintf("%s- [remote:: %s]", strings.Repeat(" ", taskIndent+4), remoteID)
}

func leadingWhitespace(line string) string {
	for i, r := range line {
		if r != ' ' && r != '\t' {
			return line[:i]
		}
	}
	return line
}

// indentWidth measures indentation in columns, counting a tab as 4.
func indentWidth(ws string) int {
	width := 0
	for _, r := range ws {
		if r == '\t' {
			width += 4
		} else {
			width++
		}
	}
	return width
}

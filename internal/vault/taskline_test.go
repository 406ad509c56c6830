package vault

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTaskLine(t *testing.T) {
	tests := []struct {
		name string
		line string
		want TaskLine
		ok   bool
	}{
		{"open task", "- [ ] Buy milk", TaskLine{Indent: 0, Completed: false, Text: "Buy milk"}, true},
		{"completed task", "- [x] Buy milk", TaskLine{Indent: 0, Completed: true, Text: "Buy milk"}, true},
		{"uppercase marker", "- [X] Buy milk", TaskLine{Indent: 0, Completed: true, Text: "Buy milk"}, true},
		{"indented with spaces", "    - [ ] Nested", TaskLine{Indent: 4, Completed: false, Text: "Nested"}, true},
		{"indented with tab", "\t- [ ] Nested", TaskLine{Indent: 4, Completed: false, Text: "Nested"}, true},
		{"block anchor preserved", "- [ ] Buy milk ^blk1", TaskLine{Indent: 0, Completed: false, Text: "Buy milk ^blk1"}, true},
		{"plain bullet", "- Buy milk", TaskLine{}, false},
		{"prose", "Buy milk", TaskLine{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseTaskLine(tt.line)
			require.Equal(t, tt.ok, ok)
			if ok {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestScanLinkedTasks(t *testing.T) {
	lines := []string{
		"# Shopping",
		"- [ ] Buy milk ^blk1",
		"    - [remote:: 6XWhhQmh2Qv29fXP]",
		"- [x] Call plumber",
		"    - some unrelated note",
		"    - [remote:: 123456]",
		"- [ ] Untracked task",
		"- [ ] Marker too shallow",
		"- [remote:: notasubitem]",
	}

	linked := ScanLinkedTasks(lines)
	require.Len(t, linked, 2)

	assert.Equal(t, 1, linked[0].Line)
	assert.Equal(t, "6XWhhQmh2Qv29fXP", linked[0].RemoteID)
	assert.False(t, linked[0].Completed)
	assert.Equal(t, "- [ ] Buy milk ^blk1", linked[0].Raw)

	assert.Equal(t, 3, linked[1].Line)
	assert.Equal(t, "123456", linked[1].RemoteID)
	assert.True(t, linked[1].Completed)
}

func TestScanLinkedTasks_StopsAtShallowerIndent(t *testing.T) {
	lines := []string{
		"- [ ] Parent",
		"    - child note",
		"- [ ] Sibling",
		"    - [remote:: abc1]",
	}

	linked := ScanLinkedTasks(lines)
	require.Len(t, linked, 1, "marker belongs to the sibling, not the parent")
	assert.Equal(t, 2, linked[0].Line)
}

func TestScanLinkedTasks_BlankLinesInsideSubItems(t *testing.T) {
	lines := []string{
		"- [ ] Task",
		"",
		"    - [remote:: abc1]",
	}

	linked := ScanLinkedTasks(lines)
	require.Len(t, linked, 1)
	assert.Equal(t, "abc1", linked[0].RemoteID)
}

func TestCompleteLine(t *testing.T) {
	assert.Equal(t, "- [x] Buy milk", CompleteLine("- [ ] Buy milk"))
	assert.Equal(t, "    - [x] Nested ^blk1", CompleteLine("    - [ ] Nested ^blk1"))
	// Already completed and non-task lines pass through.
	assert.Equal(t, "- [x] Done", CompleteLine("- [x] Done"))
	assert.Equal(t, "plain text", CompleteLine("plain text"))
}

func TestAppendCompletionDate(t *testing.T) {
	at := time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)

	got := AppendCompletionDate("- [x] Buy milk", at)
	assert.Equal(t, "- [x] Buy milk ✅ 2026-08-25", got)

	// Idempotent.
	assert.Equal(t, got, AppendCompletionDate(got, at.AddDate(0, 0, 1)))
}

package logger

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetLogsFiltersNewestFirst(t *testing.T) {
	l := NewIsolatedLogger(filepath.Join(t.TempDir(), "media.log"))

	call := l.With(map[string]interface{}{"call_id": "c-1"})
	for i := 0; i < 5; i++ {
		call.Info("MediaStream", fmt.Sprintf("turn %d", i), nil)
	}
	call.Info("MediaStream", "override", map[string]interface{}{"call_id": "c-3"})
	l.Warn("CallService", "other call", map[string]interface{}{"call_id": "c-2"})
	l.Debug("CallService", "below file level", nil)
	require.NoError(t, l.Sync())

	tests := []struct {
		name   string
		filter LogFilter
		limit  int
		offset int
		want   []string
	}{
		{"first page", LogFilter{CallID: "c-1"}, 2, 0, []string{"turn 4", "turn 3"}},
		{"last page", LogFilter{CallID: "c-1"}, 2, 4, []string{"turn 0"}},
		{"past the end", LogFilter{CallID: "c-1"}, 2, 10, []string{}},
		{"details override fields", LogFilter{CallID: "c-3"}, 10, 0, []string{"override"}},
		{"by level", LogFilter{Level: "WARN"}, 10, 0, []string{"other call"}},
		{"by module", LogFilter{Module: "CallService"}, 10, 0, []string{"other call"}},
		{"everything", LogFilter{}, 3, 0, []string{"other call", "override", "turn 4"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entries, err := l.GetLogs(tt.filter, tt.limit, tt.offset)
			require.NoError(t, err)

			got := make([]string, 0, len(entries))
			for _, e := range entries {
				got = append(got, e.Message)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGetLogById(t *testing.T) {
	l := NewIsolatedLogger(filepath.Join(t.TempDir(), "app.log"))
	l.Error("CallService", "Dial failed", map[string]interface{}{"error": "busy"})
	require.NoError(t, l.Sync())

	entries, err := l.GetLogs(LogFilter{}, 1, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	entry, err := l.GetLogById(entries[0].Id)
	require.NoError(t, err)
	assert.Equal(t, "Dial failed", entry.Message)
	assert.Equal(t, "ERROR", entry.Level)
	assert.Equal(t, "busy", entry.Details["error"])

	_, err = l.GetLogById("missing")
	assert.Error(t, err)
}

func TestNopLoggerHasNoLogs(t *testing.T) {
	l := NewNopLogger()
	l.Info("CallService", "dropped", nil)

	entries, err := l.GetLogs(LogFilter{}, 10, 0)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

package logs

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAppendAndReadEvents(t *testing.T) {
	dir := t.TempDir()

	require.NoError(t, AppendEvent(dir, "sess-1", Event{Stage: "attempting", Attempt: 1, Message: "realizing environment"}))
	require.NoError(t, AppendEvent(dir, "sess-1", Event{Stage: "failed", Attempt: 5, Error: "UnsatisfiableError"}))
	require.NoError(t, AppendEvent(dir, "sess-2", Event{Stage: "created", Message: "seed spec loaded"}))

	lines, err := ReadEvents(dir, "sess-1")
	require.NoError(t, err)
	require.Len(t, lines, 2)

	var first Event
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	require.Equal(t, "sess-1", first.SessionID)
	require.Equal(t, "attempting", first.Stage)
	require.Equal(t, 1, first.Attempt)
	require.NotEmpty(t, first.Timestamp)

	other, err := ReadEvents(dir, "sess-2")
	require.NoError(t, err)
	require.Len(t, other, 1)
}

func TestReadEventsMissingSession(t *testing.T) {
	_, err := ReadEvents(t.TempDir(), "absent")
	require.Error(t, err)
}

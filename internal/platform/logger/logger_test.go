package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ohmynofan/camp-loyalty-bot/internal/domain/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogObject_WritesFormattedObjectToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.log")
	require.NoError(t, Init(path, "run-1"))
	t.Cleanup(func() { _ = Close() })

	type line struct {
		Quest string `json:"quest"`
		Polls int    `json:"polls"`
	}
	l := NewNamed("Operation - Account 1", &model.Identity{AccIdx: 0})
	l.LogObject("Quest outcomes", []line{{Quest: "Follow Camp", Polls: 3}})

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	out := string(raw)
	assert.Contains(t, out, "Quest outcomes")
	assert.Contains(t, out, "Follow Camp")
	assert.Contains(t, out, `"run_id":"run-1"`)
	assert.Contains(t, out, `"account":1`)
}

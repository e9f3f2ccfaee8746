package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noColor() *bool {
	b := false
	return &b
}

func TestLevel_String(t *testing.T) {
	tests := []struct {
		level Level
		want  string
	}{
		{DEBUG, "DEBUG"},
		{INFO, "INFO"},
		{WARN, "WARN"},
		{ERROR, "ERROR"},
		{Level(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.level.String())
	}
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, DEBUG, ParseLevel("debug"))
	assert.Equal(t, WARN, ParseLevel(" Warning "))
	assert.Equal(t, ERROR, ParseLevel("ERROR"))
	assert.Equal(t, INFO, ParseLevel("nonsense"))
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Options{Level: WARN, Output: &buf, Color: noColor()})

	logger.Debug("debug message")
	logger.Info("info message")
	assert.Zero(t, buf.Len(), "DEBUG and INFO should be filtered at WARN")

	logger.Warn("warn message")
	assert.Contains(t, buf.String(), "[WARN] warn message")

	buf.Reset()
	logger.Error("error message")
	assert.Contains(t, buf.String(), "[ERROR] error message")
}

func TestLogger_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Options{Level: DEBUG, Output: &buf, Color: noColor()})

	logger.WithFields(map[string]interface{}{"b": 2, "a": "x"}).Info("sampled %d windows", 3)

	out := buf.String()
	assert.Contains(t, out, "[INFO] sampled 3 windows")
	assert.Contains(t, out, "| a=x b=2", "fields should be sorted")
	assert.NotContains(t, out, "\033[")
}

func TestLogger_ColorForced(t *testing.T) {
	var buf bytes.Buffer
	on := true
	logger := New(Options{Level: DEBUG, Output: &buf, Color: &on})

	logger.Error("boom")
	assert.Contains(t, buf.String(), ERROR.Color())
}

func TestLogger_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Options{Level: DEBUG, Format: FormatJSON, Output: &buf})

	logger.Component("tracker").Warn("probe failed: %s", "busy")

	var entry map[string]interface{}
	require.NoError(t, sonic.Unmarshal(bytes.TrimSpace(buf.Bytes()), &entry))
	assert.Equal(t, "WARN", entry["level"])
	assert.Equal(t, "probe failed: busy", entry["message"])
	fields, ok := entry["fields"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "tracker", fields["component"])
}

func TestLogger_WithFieldsDoesNotMutateParent(t *testing.T) {
	base := New(Options{Level: INFO, Output: &bytes.Buffer{}}).WithField("existing", "value")

	child := base.WithFields(map[string]interface{}{"new1": "v1", "new2": "v2"})

	assert.Len(t, child.fields, 3)
	assert.Equal(t, "value", child.fields["existing"])
	_, ok := base.fields["new1"]
	assert.False(t, ok, "parent logger was modified")
}

func TestLogger_SetLevelSharedBySink(t *testing.T) {
	var buf bytes.Buffer
	root := New(Options{Level: ERROR, Output: &buf, Color: noColor()})
	child := root.Component("idle")

	child.Info("hidden")
	assert.Zero(t, buf.Len())

	root.SetLevel(DEBUG)
	child.Info("visible")
	assert.Contains(t, buf.String(), "visible")
}

func TestLogger_WarnOnce(t *testing.T) {
	var buf bytes.Buffer
	logger := New(Options{Level: INFO, Output: &buf, Color: noColor()})

	for i := 0; i < 3; i++ {
		logger.WarnOnce("pattern:(a+)+", "skipping unsafe pattern %q", "(a+)+")
	}
	logger.Component("other").WarnOnce("pattern:(a+)+", "skipping unsafe pattern %q", "(a+)+")

	assert.Equal(t, 1, strings.Count(buf.String(), "skipping unsafe pattern"))
}

func TestDiscard(t *testing.T) {
	logger := Discard()
	assert.NotPanics(t, func() {
		logger.Error("nothing to see")
		logger.WarnOnce("k", "nothing")
	})
}

func TestPackageLevelHelpers(t *testing.T) {
	orig := Default()
	defer SetDefault(orig)

	var buf bytes.Buffer
	SetDefault(New(Options{Level: INFO, Output: &buf, Color: noColor()}))

	Debug("dropped")
	Info("kept %s", "info")
	WithField("k", "v").Warn("with field")
	SetLevel(ERROR)
	Warn("dropped too")
	Error("kept error")

	out := buf.String()
	assert.NotContains(t, out, "dropped")
	assert.Contains(t, out, "kept info")
	assert.Contains(t, out, "with field | k=v")
	assert.Contains(t, out, "kept error")
}

func TestSetOutput(t *testing.T) {
	orig := Default()
	defer SetDefault(orig)
	SetDefault(New(Options{Level: INFO, Output: &bytes.Buffer{}, Color: noColor()}))

	var buf bytes.Buffer
	SetOutput(&buf)
	Info("redirected")
	assert.Contains(t, buf.String(), "redirected")
}

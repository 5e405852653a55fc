package ui

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiagnostics_KeepsTail(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf)

	var out strings.Builder
	for i := range 10 {
		out.WriteString("line")
		out.WriteByte(byte('0' + i))
		out.WriteByte('\n')
	}
	l.Diagnostics("cargo build", []byte(out.String()), 3)

	got := buf.String()
	assert.Contains(t, got, "last 3 of 10 lines")
	assert.NotContains(t, got, "line6")
	assert.Contains(t, got, "├─ line7")
	assert.Contains(t, got, "└─ line9")
}

func TestDiagnostics_EmptyOutputIsSilent(t *testing.T) {
	var buf bytes.Buffer
	NewWithWriter(&buf).Diagnostics("cargo build", []byte("\n"), 5)
	assert.Empty(t, buf.String())
}

func TestSetLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(&buf)

	require.NoError(t, l.SetLevel("warn"))
	l.Info("hidden")
	l.Warn("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")

	assert.Error(t, l.SetLevel("loud"))
}

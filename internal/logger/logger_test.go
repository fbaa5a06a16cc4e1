package logger

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLevelFiltersBelowThreshold(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf, false)
	SetLevel(LevelWarning)
	defer SetLevel(LevelInfo)

	Infof("should not appear")
	assert.Empty(t, buf.String())

	Warnf("should appear")
	assert.Contains(t, buf.String(), "should appear")
	assert.Contains(t, buf.String(), "severity=WARNING")
}

func TestJSONOutputUsesSeverityField(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf, true)
	SetLevel(LevelTrace)
	defer SetLevel(LevelInfo)

	Errorf("boom: %d", 42)
	assert.Contains(t, buf.String(), `"severity":"ERROR"`)
	assert.Contains(t, buf.String(), "boom: 42")
}

func TestTraceBelowDebug(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf, false)
	SetLevel(LevelDebug)
	defer SetLevel(LevelInfo)

	Tracef("too quiet")
	assert.Empty(t, buf.String())

	SetLevel(LevelTrace)
	Tracef("now audible")
	assert.Contains(t, buf.String(), "severity=TRACE")
}

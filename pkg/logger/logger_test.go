package logger

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInit(t *testing.T) {
	t.Cleanup(func() { _ = Init(Config{}) })

	path := filepath.Join(t.TempDir(), "logs", "listdb.log")
	require.NoError(t, Init(Config{Level: "debug", Format: "json", Output: path}))
	assert.Equal(t, logrus.DebugLevel, L().GetLevel())

	Component("test").Info("hello")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"component":"test"`)

	assert.Error(t, Init(Config{Format: "xml"}))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, logrus.WarnLevel, parseLevel("warning"))
	assert.Equal(t, logrus.InfoLevel, parseLevel("chatty"))
}

package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Run("json format with fields", func(t *testing.T) {
		var buf bytes.Buffer
		log := New(&buf, "debug", "json")

		log.WithField("repo", "octo/hello").Debug("probing")

		var entry map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
		assert.Equal(t, "octo/hello", entry["repo"])
		assert.Equal(t, "probing", entry["msg"])
	})

	t.Run("unknown level falls back to info", func(t *testing.T) {
		log := New(&bytes.Buffer{}, "chatty", "text")

		assert.Equal(t, logrus.InfoLevel, log.GetLevel())
	})
}

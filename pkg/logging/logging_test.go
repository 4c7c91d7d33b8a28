package logging

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLevelAndComponent(t *testing.T) {
	var buf bytes.Buffer
	log := Component(NewWithWriter(&buf, "warn", false), "registry")

	log.Info().Msg("dropped")
	assert.Empty(t, buf.String())

	log.Warn().Str("node_id", "n1").Msg("node demoted")
	assert.Contains(t, buf.String(), `"component":"registry"`)
	assert.Contains(t, buf.String(), `"node_id":"n1"`)
}

func TestUnknownLevelDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, "loud", false)
	log.Debug().Msg("hidden")
	log.Info().Msg("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

package assets

import (
	"os/exec"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScriptPassesThroughUnknownCommands(t *testing.T) {
	if _, err := exec.LookPath("bash"); err != nil {
		t.Skip("bash not available")
	}
	out, err := exec.Command("bash", "-c", Script, "kuber", "echo", "hi").Output()
	require.NoError(t, err)
	assert.Equal(t, "hi\n", string(out))
}

func TestScriptHelp(t *testing.T) {
	if _, err := exec.LookPath("bash"); err != nil {
		t.Skip("bash not available")
	}
	out, err := exec.Command("bash", "-c", Script, "kuber").Output()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(out), "usage: kuber"))
}

func TestIndexIsEmbedded(t *testing.T) {
	assert.Contains(t, string(Index), "/api/flush")
}

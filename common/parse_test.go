package common

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddAddr(t *testing.T) {
	var p Parsed
	require.NoError(t, p.AddList("192.0.2.1, 10.0.0.0/30,Example.COM, https://host.example:8443/x, 192.0.2.1"))
	assert.Equal(t, []string{
		"192.0.2.1",
		"10.0.0.0", "10.0.0.1", "10.0.0.2", "10.0.0.3",
		"example.com",
		"host.example",
	}, p.Targets)
}

func TestAddAddr_Range(t *testing.T) {
	var p Parsed
	require.NoError(t, p.AddAddr("192.0.2.1-3"))
	assert.Equal(t, []string{"192.0.2.1", "192.0.2.2", "192.0.2.3"}, p.Targets)
}

func TestAddFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "targets.txt")
	require.NoError(t, os.WriteFile(path, []byte("# comment\n192.0.2.9\n\nexample.org\n"), 0644))

	var p Parsed
	require.NoError(t, p.AddFile(path))
	assert.Equal(t, []string{"192.0.2.9", "example.org"}, p.Targets)

	assert.Error(t, p.AddFile(filepath.Join(t.TempDir(), "missing.txt")))
}

func TestParseProbes(t *testing.T) {
	probes, err := ParseProbes("ping, scan,PING")
	require.NoError(t, err)
	assert.Equal(t, []string{"ping", "scan"}, probes)

	_, err = ParseProbes("scan,nmap")
	assert.Error(t, err)

	_, err = ParseProbes(" , ")
	assert.Error(t, err)
}

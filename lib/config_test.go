package lib

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConfigFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ConfigFilePath)
	c := DefaultConfig()
	c.ConsensusConfig.MiningIntervalMS = 1234
	c.StoreConfig.RoundRetention = 7
	require.NoError(t, c.WriteToFile(path))
	loaded, err := NewConfigFromFile(path)
	require.NoError(t, err)
	require.Equal(t, c, loaded)
}

func TestConfigDefaultsForAbsentFields(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ConfigFilePath)
	// a config file naming only one option keeps every other default
	require.NoError(t, os.WriteFile(path, []byte(`{"maxTinyBlocksCount": 2}`), os.ModePerm))
	loaded, err := NewConfigFromFile(path)
	require.NoError(t, err)
	require.EqualValues(t, 2, loaded.MaxTinyBlocksCount)
	def := DefaultConfig()
	require.Equal(t, def.MiningIntervalMS, loaded.MiningIntervalMS)
	require.Equal(t, def.PeriodSeconds, loaded.PeriodSeconds)
	require.Equal(t, def.DBName, loaded.DBName)
}

func TestMinersCountOfConsent(t *testing.T) {
	c := DefaultConsensusConfig()
	tests := []struct {
		miners int
		quorum int
	}{
		{1, 1},
		{3, 3},
		{4, 3},
		{6, 5},
		{7, 5},
		{17, 12},
		{21, 15},
	}
	for _, test := range tests {
		require.Equal(t, test.quorum, c.MinersCountOfConsent(test.miners))
	}
}

func TestConfigFromMissingFile(t *testing.T) {
	_, err := NewConfigFromFile(filepath.Join(t.TempDir(), "absent.json"))
	require.ErrorContains(t, err, "ReadFile")
}

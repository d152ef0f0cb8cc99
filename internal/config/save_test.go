package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

func TestSetValue_PreservesCommentsAndTypes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, WriteDefaultConfig(path))

	require.NoError(t, SetValue(path, "discovery.page_size", "42"))
	require.NoError(t, SetValue(path, "selection.notify_on_reselect", "true"))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), "# Regional endpoints queried for profiles")

	v := viper.New()
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())
	require.Equal(t, 42, v.GetInt("discovery.page_size"))
	require.True(t, v.GetBool("selection.notify_on_reselect"))
	require.Equal(t, "10s", v.GetString("discovery.timeout"))
}

func TestSetValue_CreatesFileAndSections(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	require.NoError(t, SetValue(path, "tracing.exporter", "stdout"))
	require.NoError(t, SetValue(path, "tracing.enabled", "true"))

	v := viper.New()
	v.SetConfigFile(path)
	require.NoError(t, v.ReadInConfig())
	require.Equal(t, "stdout", v.GetString("tracing.exporter"))
	require.True(t, v.GetBool("tracing.enabled"))
}

func TestSetValue_Errors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, SetValue(path, "log.level", "debug"))

	require.Error(t, SetValue(path, "log.level.deep", "x"), "log.level is a scalar")
	require.Error(t, SetValue(path, "log..level", "x"))
	require.Error(t, SetValue(path, "log.level", "[a, b]"))
}

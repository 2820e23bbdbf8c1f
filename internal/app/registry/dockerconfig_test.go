package registry

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCreateDockerConfig(t *testing.T) {
	t.Run("no path", func(t *testing.T) {
		r := require.New(t)
		config, err := CreateDockerConfig("")
		r.NoError(err)
		r.Nil(config)
	})

	t.Run("no file", func(t *testing.T) {
		_, err := CreateDockerConfig(filepath.Join(t.TempDir(), "config.json"))
		require.ErrorContains(t, err, "opening docker config")
	})

	t.Run("auths", func(t *testing.T) {
		r := require.New(t)
		path := filepath.Join(t.TempDir(), "config.json")
		auth := base64.StdEncoding.EncodeToString([]byte("user:pw"))
		r.NoError(os.WriteFile(path, []byte(`{"auths":{"registry.example.com":{"auth":"`+auth+`"}}}`), 0o600))
		config, err := CreateDockerConfig(path)
		r.NoError(err)
		r.Equal("user", config.AuthConfigs["registry.example.com"].Username)
		r.Equal("pw", config.AuthConfigs["registry.example.com"].Password)
	})

	t.Run("bad json", func(t *testing.T) {
		r := require.New(t)
		path := filepath.Join(t.TempDir(), "config.json")
		r.NoError(os.WriteFile(path, []byte("{"), 0o600))
		_, err := CreateDockerConfig(path)
		r.ErrorContains(err, "parsing docker config")
	})
}

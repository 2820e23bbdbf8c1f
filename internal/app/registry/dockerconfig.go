package registry

import (
	"os"

	"github.com/docker/cli/cli/config/configfile"
	"github.com/pkg/errors"
)

// CreateDockerConfig reads a docker config.json, used to obtain login
// credentials. An empty path yields a nil config and no error.
func CreateDockerConfig(dockerConfigFile string) (*configfile.ConfigFile, error) {
	if dockerConfigFile == "" {
		return nil, nil
	}
	file, err := os.Open(dockerConfigFile)
	if err != nil {
		return nil, errors.Wrap(err, "opening docker config")
	}
	defer file.Close()
	config := configfile.New(dockerConfigFile)
	if err := config.LoadFromReader(file); err != nil {
		return nil, errors.Wrapf(err, "parsing docker config %s", dockerConfigFile)
	}
	return config, nil
}

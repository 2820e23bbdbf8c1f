package registry

import (
	"bufio"
	"encoding/json"
	"os"

	"github.com/google/go-containerregistry/pkg/name"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// dockerHubHosts all serve Docker Hub, whose canonical name is name.DefaultRegistry.
var dockerHubHosts = map[string]bool{
	"docker.io":            true,
	"index.docker.io":      true,
	"registry-1.docker.io": true,
}

// EquivRegistries contains a map of registry name to list of registry names.
// A remote host found in one of the lists is treated as the corresponding
// key: it gets the key's namespacing rules and login credentials.
//
// e.g. equiv-registries.json ...
//
//	{
//	  "my.registry.com": [
//	    "my.registry.com:443",
//	    "my.registry.com:8443"
//	  ],
//	  "index.docker.io": [
//	    "mirror.gcr.io"
//	  ]
//	}
type EquivRegistries struct {
	Equivs map[string][]string
}

// FindEquivalent returns the equivalent registry name, or the same
// name if there is no equivalent. Docker Hub hosts are always equivalent
// to name.DefaultRegistry. A nil EquivRegistries knows only those.
func (e *EquivRegistries) FindEquivalent(inputName string) string {
	if e != nil {
	search:
		for canonical, equivs := range e.Equivs {
			for _, equiv := range equivs {
				if equiv == inputName {
					logrus.Debugf("equiv of %s is %s", inputName, canonical)
					inputName = canonical
					break search
				}
			}
		}
	}
	if dockerHubHosts[inputName] {
		return name.DefaultRegistry
	}
	return inputName
}

// CreateEquivRegistries creates an equivalent registries object from
// a JSON config file. An empty path yields an empty object.
func CreateEquivRegistries(equivRegistriesFile string) (*EquivRegistries, error) {
	equivRegistries := &EquivRegistries{Equivs: map[string][]string{}}
	if equivRegistriesFile == "" {
		return equivRegistries, nil
	}
	file, err := os.Open(equivRegistriesFile)
	if err != nil {
		return nil, errors.Wrap(err, "opening equivalent registries file")
	}
	defer file.Close()
	if err := json.NewDecoder(bufio.NewReader(file)).Decode(&equivRegistries.Equivs); err != nil {
		return nil, errors.Wrapf(err, "parsing equivalent registries file %s", equivRegistriesFile)
	}
	return equivRegistries, nil
}

package regsync

import (
	"net/url"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"sigs.k8s.io/yaml"
)

// Database backends.
const (
	DatabasePostgres = "postgres"
	DatabaseMemory   = "memory"
)

// Options configures a sync. They are read from flags and an optional YAML
// file, flags taking precedence.
type Options struct {
	// RemoteURL is the base URL of the upstream registry.
	RemoteURL string `json:"remoteURL"`
	// UpstreamName is the repository to sync, e.g. "library/busybox".
	UpstreamName         string `json:"upstreamName"`
	IncludeForeignLayers bool   `json:"includeForeignLayers"`
	// MaterializeBlobs downloads blob bytes as well as manifests.
	MaterializeBlobs bool `json:"materializeBlobs"`

	Database   string `json:"database"`
	PgConnStr  string `json:"pgConnStr"`
	StorageDir string `json:"storageDir"`
	// DockerConfig is a docker config.json holding registry credentials.
	DockerConfig string `json:"dockerConfig"`
	// EquivRegistries is a JSON file of equivalent registry hosts.
	EquivRegistries string `json:"equivRegistries"`

	MaxConcurrent int64  `json:"maxConcurrent"`
	RetrySteps    int    `json:"retrySteps"`
	RetryDelay    string `json:"retryDelay"`
	Timeout       string `json:"timeout"`

	// Port is where serve listens for registry notifications.
	Port string `json:"port"`
}

// DefaultOptions returns the options used when neither flags nor file set them.
func DefaultOptions() Options {
	return Options{
		Database:      DatabasePostgres,
		StorageDir:    "regsync-data",
		MaxConcurrent: 10,
		RetrySteps:    5,
		RetryDelay:    "1s",
		Timeout:       "60s",
		Port:          "3333",
	}
}

// LoadOptionsFile reads YAML options from path into opts. Fields the file does
// not mention keep their value.
func LoadOptionsFile(path string, opts *Options) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "reading config file")
	}
	if err := yaml.UnmarshalStrict(raw, opts); err != nil {
		return errors.Wrapf(err, "parsing config file %s", path)
	}
	return nil
}

// ApplyConfigFile loads the config file into opts, then restores every flag
// that was set on the command line, so flags win over the file. The flags
// must be bound to the fields of opts.
func ApplyConfigFile(flags *pflag.FlagSet, path string, opts *Options) error {
	if path == "" {
		return nil
	}
	changed := map[string]string{}
	flags.Visit(func(f *pflag.Flag) {
		changed[f.Name] = f.Value.String()
	})
	if err := LoadOptionsFile(path, opts); err != nil {
		return err
	}
	for name, value := range changed {
		if err := flags.Set(name, value); err != nil {
			return errors.Wrapf(err, "re-applying flag --%s", name)
		}
	}
	return nil
}

// Validate checks the options needed to sync.
func (o *Options) Validate() error {
	if o.RemoteURL == "" {
		return errors.New("remote url is required")
	}
	if u, err := url.Parse(o.RemoteURL); err != nil || u.Scheme == "" || u.Host == "" {
		return errors.Errorf("remote url %q must be an absolute url", o.RemoteURL)
	}
	if o.UpstreamName == "" {
		return errors.New("upstream name is required")
	}
	if err := o.validateDatabase(); err != nil {
		return err
	}
	if o.StorageDir == "" {
		return errors.New("storage dir is required")
	}
	if o.MaxConcurrent < 0 {
		return errors.Errorf("max concurrent must not be negative, got %d", o.MaxConcurrent)
	}
	if o.RetrySteps < 0 {
		return errors.Errorf("retry steps must not be negative, got %d", o.RetrySteps)
	}
	if _, err := o.retryDelay(); err != nil {
		return err
	}
	if _, err := o.timeout(); err != nil {
		return err
	}
	return nil
}

func (o *Options) validateDatabase() error {
	switch o.Database {
	case DatabasePostgres:
		if o.PgConnStr == "" {
			return errors.New("the postgres database needs a connection string")
		}
	case DatabaseMemory:
	default:
		return errors.Errorf("unknown database %q, want %s or %s", o.Database, DatabasePostgres, DatabaseMemory)
	}
	return nil
}

func (o *Options) retryDelay() (time.Duration, error) {
	return parseDuration("retry delay", o.RetryDelay)
}

func (o *Options) timeout() (time.Duration, error) {
	return parseDuration("timeout", o.Timeout)
}

func parseDuration(name string, value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid %s", name)
	}
	if d < 0 {
		return 0, errors.Errorf("%s must not be negative", name)
	}
	return d, nil
}

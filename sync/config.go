package sync

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/config"
)

// Settings holds everything the engine needs apart from credentials and
// per-tenant destination bindings.
type Settings struct {
	Source      SourceSettings
	Destination DestinationSettings
	Sync        SyncSettings
}

type SourceSettings struct {
	BaseURL       string   `yaml:"baseURL"`
	DirectoryPath string   `yaml:"directoryPath"`
	ReadingsPath  string   `yaml:"readingsPath"`
	Country       string   `yaml:"country"`
	Language      string   `yaml:"language"`
	Timezone      string   `yaml:"timezone"`
	OKCodes       []string `yaml:"okCodes"`
}

type DestinationSettings struct {
	// Device is the default device label written on every record.
	Device           string   `yaml:"device"`
	StatusPath       string   `yaml:"statusPath"`
	EntriesPath      string   `yaml:"entriesPath"`
	LatestEntryPaths []string `yaml:"latestEntryPaths"`
}

type SyncSettings struct {
	LookbackHours     int           `yaml:"lookbackHours"`
	MaxConcurrency    int           `yaml:"maxConcurrency"`
	BatchSize         int           `yaml:"batchSize"`
	Interval          time.Duration `yaml:"interval"`
	DirectoryTTL      time.Duration `yaml:"directoryTTL"`
	DirectoryMaxStale time.Duration `yaml:"directoryMaxStale"`
	ConnectivityTTL   time.Duration `yaml:"connectivityTTL"`
}

// Validate reports settings that would make a run meaningless.
func (s Settings) Validate() error {
	var errs []error
	if s.Source.BaseURL == "" {
		errs = append(errs, errors.New("source.baseURL is required"))
	}
	if s.Sync.LookbackHours <= 0 {
		errs = append(errs, fmt.Errorf("sync.lookbackHours must be positive, have %d", s.Sync.LookbackHours))
	}
	if s.Sync.MaxConcurrency <= 0 {
		errs = append(errs, fmt.Errorf("sync.maxConcurrency must be positive, have %d", s.Sync.MaxConcurrency))
	}
	if s.Sync.BatchSize <= 0 {
		errs = append(errs, fmt.Errorf("sync.batchSize must be positive, have %d", s.Sync.BatchSize))
	}
	if s.Sync.DirectoryMaxStale < s.Sync.DirectoryTTL {
		errs = append(errs, errors.New("sync.directoryMaxStale must not be shorter than sync.directoryTTL"))
	}
	return errors.Join(errs...)
}

// ConfigStore is the external name to value lookup the engine reads
// credentials and destination bindings from.
type ConfigStore interface {
	LookupEnv(name string) (string, bool)
}

// EnvConfigStore reads from the process environment.
type EnvConfigStore struct{}

func (EnvConfigStore) LookupEnv(name string) (string, bool) {
	return os.LookupEnv(name)
}

// MapConfigStore reads from a static map.
type MapConfigStore map[string]string

func (m MapConfigStore) LookupEnv(name string) (string, bool) {
	v, exists := m[name]
	return v, exists
}

// JSONCompositeEnvVar serves names from a flat JSON object held in the env var
// Parent, so a whole set of destination bindings can be shipped as one secret:
//
//	CGMSYNC_DESTINATIONS='{"DEST_URL__alice":"https://...","DEST_SECRET__alice":"..."}'
//
// Non-string values are returned in their JSON text form. A missing or
// malformed object holds no names.
type JSONCompositeEnvVar struct {
	Parent string
}

func (c JSONCompositeEnvVar) LookupEnv(name string) (string, bool) {
	if c.Parent == "" {
		return "", false
	}
	object := strings.TrimSpace(os.Getenv(c.Parent))
	if !gjson.Valid(object) {
		return "", false
	}
	doc := gjson.Parse(object)
	if !doc.IsObject() {
		return "", false
	}
	value := doc.Get(name)
	if !value.Exists() || value.Type == gjson.Null {
		return "", false
	}
	return value.String(), true
}

// ChainedConfigStore consults each store in order and returns the first hit.
type ChainedConfigStore []ConfigStore

func (c ChainedConfigStore) LookupEnv(name string) (string, bool) {
	for _, store := range c {
		if v, exists := store.LookupEnv(name); exists {
			return v, true
		}
	}
	return "", false
}

// YAMLSettingsUnmarshaler layers YAML sources, expanding ${NAME:default}
// references against a ConfigStore.
type YAMLSettingsUnmarshaler struct{}

func (u YAMLSettingsUnmarshaler) Unmarshal(store ConfigStore, sources ...SettingsFile) (Settings, error) {
	var result Settings
	var options []config.YAMLOption
	for _, s := range sources {
		if s.Length > 0 {
			options = append(options, config.Source(s.Reader))
		}
	}
	options = append(options, config.Expand(store.LookupEnv))
	yaml, err := config.NewYAML(options...)
	if err != nil {
		return result, fmt.Errorf("failed to read yaml config %w", err)
	}
	readError := func(key string, cause error) error {
		return fmt.Errorf("failed to read '%s' from yaml config %w", key, cause)
	}
	key := "source"
	err = yaml.Get(key).Populate(&result.Source)
	if err != nil {
		return result, readError(key, err)
	}
	key = "destination"
	err = yaml.Get(key).Populate(&result.Destination)
	if err != nil {
		return result, readError(key, err)
	}
	key = "sync"
	err = yaml.Get(key).Populate(&result.Sync)
	if err != nil {
		return result, readError(key, err)
	}
	result.Source.BaseURL = strings.TrimSpace(result.Source.BaseURL)
	return result, nil
}

// LoadSettings reads the embedded defaults followed by any extra layers.
// Later layers override earlier ones.
func LoadSettings(store ConfigStore, layers ...SettingsFile) (Settings, error) {
	sources := append([]SettingsFile{DefaultSettingsFile()}, layers...)
	result, err := YAMLSettingsUnmarshaler{}.Unmarshal(store, sources...)
	if err != nil {
		return result, err
	}
	if err = result.Validate(); err != nil {
		return result, fmt.Errorf("invalid settings: %w", err)
	}
	return result, nil
}

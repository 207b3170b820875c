package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds transport parameters shared by the fleet binaries.
type Config struct {
	// Endpoint is the broker hostname the device connects to.
	Endpoint string
	// Port is the TLS MQTT port on the broker.
	Port int
	// DeviceID is the device identity, used as MQTT client id and topic segment.
	DeviceID string
	// Region is the cloud region used for endpoint discovery when Endpoint is empty.
	Region string
	// RootCAPath is the path to the root CA certificate.
	RootCAPath string
	// CertificatePath is the path to the device client certificate.
	CertificatePath string
	// PrivateKeyPath is the path to the device private key.
	PrivateKeyPath string
}

const (
	// DefaultPort is the default TLS MQTT port.
	DefaultPort = 8883

	// EnvConfigPath overrides config file discovery when set.
	EnvConfigPath = "FLEET_CONFIG_PATH"

	// EnvEndpoint supplies the broker endpoint when the config file omits it.
	EnvEndpoint = "AWS_IOT_ENDPOINT"

	// EnvDeviceID supplies the device identity when the config file omits it.
	EnvDeviceID = "FLEET_THING_NAME"

	// nucleusServiceKey is the service entry carrying endpoint and region.
	nucleusServiceKey = "aws.greengrass.Nucleus"
)

var (
	// ErrConfigNotFound is returned when no candidate config file exists.
	ErrConfigNotFound = errors.New("config file not found")
	// errDeviceIDRequired is returned when the device identity is missing.
	errDeviceIDRequired = errors.New("device id (thingName) must be provided")
	// errTLSMaterialRequired is returned when a TLS material path is missing.
	errTLSMaterialRequired = errors.New("root CA, certificate and private key paths must be provided")
)

// greengrassFile mirrors the subset of the Greengrass nucleus config this
// system reads. The full file contains much more; unknown keys are ignored.
type greengrassFile struct {
	System struct {
		ThingName           string `yaml:"thingName"`
		CertificateFilePath string `yaml:"certificateFilePath"`
		PrivateKeyPath      string `yaml:"privateKeyPath"`
		RootCAPath          string `yaml:"rootCaPath"`
	} `yaml:"system"`
	Services map[string]struct {
		Configuration struct {
			IotDataEndpoint string `yaml:"iotDataEndpoint"`
			AwsRegion       string `yaml:"awsRegion"`
		} `yaml:"configuration"`
	} `yaml:"services"`
}

// CandidatePaths returns the ordered list of locations probed for the config
// file: the explicit override, the environment override, a certs directory
// under the working directory, and the Greengrass install default.
func CandidatePaths(override string) []string {
	candidates := make([]string, 0, 4)

	if override != "" {
		candidates = append(candidates, override)
	}

	if envPath := os.Getenv(EnvConfigPath); envPath != "" {
		candidates = append(candidates, envPath)
	}

	candidates = append(candidates, filepath.Join("certs", "config.yaml"))

	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, "greengrass", "v2", "config.yaml"))
	}

	return candidates
}

// ResolvePath returns the first existing candidate path.
func ResolvePath(override string) (string, error) {
	candidates := CandidatePaths(override)

	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("%w, tried: %s", ErrConfigNotFound, strings.Join(candidates, ", "))
}

// Load resolves, reads and validates configuration.
// An empty override runs the full candidate discovery.
func Load(override string) (*Config, error) {
	path, err := ResolvePath(override)
	if err != nil {
		return nil, err
	}

	return LoadFile(path)
}

// LoadFile reads configuration from the provided path and validates it.
func LoadFile(path string) (*Config, error) {
	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var file greengrassFile
	if err = yaml.Unmarshal(contents, &file); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg := &Config{
		Endpoint:        file.Services[nucleusServiceKey].Configuration.IotDataEndpoint,
		Port:            DefaultPort,
		DeviceID:        file.System.ThingName,
		Region:          file.Services[nucleusServiceKey].Configuration.AwsRegion,
		RootCAPath:      file.System.RootCAPath,
		CertificatePath: file.System.CertificateFilePath,
		PrivateKeyPath:  file.System.PrivateKeyPath,
	}

	applyEnvFallbacks(cfg)

	if err = Validate(cfg); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}

	return cfg, nil
}

// applyEnvFallbacks fills endpoint and device id from the environment when the
// config file leaves them empty. The file structure varies across installs.
func applyEnvFallbacks(cfg *Config) {
	if cfg.Endpoint == "" {
		cfg.Endpoint = os.Getenv(EnvEndpoint)
	}

	if cfg.DeviceID == "" {
		cfg.DeviceID = os.Getenv(EnvDeviceID)
	}
}

// Validate checks the provided configuration for required fields.
// The endpoint may stay empty: the sender can discover it, and the receiver
// reports the missing value at connect time with better context.
func Validate(cfg *Config) error {
	if cfg.DeviceID == "" {
		return errDeviceIDRequired
	}

	if cfg.RootCAPath == "" || cfg.CertificatePath == "" || cfg.PrivateKeyPath == "" {
		return errTLSMaterialRequired
	}

	if cfg.Port <= 0 {
		cfg.Port = DefaultPort
	}

	return nil
}

// Configuration

// The configuration is loaded from a YAML file, with the following structure:
//
//  coreaffinity_config:
//    cpuinfo_file: /proc/cpuinfo
//    max_cpuinfo_size: 16MiB
//    affinity_config:
//      extra_env_vars: [...]
//      disable_bind: false
//    log_config:
//      ...
//  workload:
//    ...
//
// The "coreaffinity_config" section maps to the CoreAffinityConfig structure,
// defined in this package. The "workload" section is loaded into a structure
// provided by the caller, primed with default values.

package coreaffinity_internal

import (
	"fmt"
	"io"
	"os"

	"github.com/docker/go-units"
	"gopkg.in/yaml.v3"
)

const (
	COREAFFINITY_CONFIG_SECTION_NAME = "coreaffinity_config"
	WORKLOAD_SECTION_NAME            = "workload"

	COREAFFINITY_CONFIG_CPUINFO_FILE_DEFAULT     = TOPOLOGY_SOURCE_DEFAULT
	COREAFFINITY_CONFIG_MAX_CPUINFO_SIZE_DEFAULT = "16MiB"
)

type CoreAffinityConfig struct {
	// The topology source:
	CpuinfoFile string `yaml:"cpuinfo_file"`

	// The max size to read from the source, w/ the usual k, m, g suffixes; use
	// 0 for no limit:
	MaxCpuinfoSize string `yaml:"max_cpuinfo_size"`

	AffinityConfig *AffinityConfig `yaml:"affinity_config"`
	LoggerConfig   *LoggerConfig   `yaml:"log_config"`
}

func DefaultCoreAffinityConfig() *CoreAffinityConfig {
	return &CoreAffinityConfig{
		CpuinfoFile:    COREAFFINITY_CONFIG_CPUINFO_FILE_DEFAULT,
		MaxCpuinfoSize: COREAFFINITY_CONFIG_MAX_CPUINFO_SIZE_DEFAULT,
		AffinityConfig: DefaultAffinityConfig(),
		LoggerConfig:   DefaultLoggerConfig(),
	}
}

func (cfg *CoreAffinityConfig) MaxCpuinfoSizeBytes() (int64, error) {
	if cfg.MaxCpuinfoSize == "" || cfg.MaxCpuinfoSize == "0" {
		return TOPOLOGY_SOURCE_MAX_SIZE_UNBOUND, nil
	}
	maxSize, err := units.RAMInBytes(cfg.MaxCpuinfoSize)
	if err != nil {
		return 0, fmt.Errorf("invalid max_cpuinfo_size %q: %w", cfg.MaxCpuinfoSize, err)
	}
	return maxSize, nil
}

// LoadConfig loads the configuration from the specified YAML file (or buffer,
// for testing) as follows:
//   - the coreaffinity_config section is returned as a *CoreAffinityConfig
//   - the workload section is loaded into the provided workloadConfig, which
//     is expected to have been primed with default values.
//
// If neither the file nor the buffer are specified, the default config is
// returned.
func LoadConfig(cfgFile string, workloadConfig any, buf []byte) (*CoreAffinityConfig, error) {
	cfg := DefaultCoreAffinityConfig()

	if buf == nil {
		if cfgFile == "" {
			return cfg, nil
		}
		f, err := os.Open(cfgFile)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		buf, err = io.ReadAll(f)
		if err != nil {
			return nil, fmt.Errorf("file: %q: %w", cfgFile, err)
		}
	}

	docNode := yaml.Node{}
	if err := yaml.Unmarshal(buf, &docNode); err != nil {
		return nil, fmt.Errorf("file: %q: %w", cfgFile, err)
	}

	if docNode.Kind == yaml.DocumentNode && len(docNode.Content) > 0 {
		rootNode := docNode.Content[0]
		if rootNode.Kind != yaml.MappingNode {
			return nil, fmt.Errorf("file: %q: invalid YAML root node %q", cfgFile, rootNode.Tag)
		}
		// The mapping content alternates key, value nodes:
		for i := 0; i+1 < len(rootNode.Content); i += 2 {
			keyNode, valNode := rootNode.Content[i], rootNode.Content[i+1]
			var toCfg any
			switch keyNode.Value {
			case COREAFFINITY_CONFIG_SECTION_NAME:
				toCfg = cfg
			case WORKLOAD_SECTION_NAME:
				toCfg = workloadConfig
			}
			if toCfg == nil || valNode.Kind != yaml.MappingNode {
				continue
			}
			if err := valNode.Decode(toCfg); err != nil {
				return nil, fmt.Errorf("file: %q: %w", cfgFile, err)
			}
		}
	}

	if _, err := cfg.MaxCpuinfoSizeBytes(); err != nil {
		return nil, fmt.Errorf("file: %q: %w", cfgFile, err)
	}

	return cfg, nil
}

package utils

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v2"
)

var EtcDir = "."

const ISOFormat = "2006-01-02T15:04:05.000Z"

const (
	DefaultReflectanceSource = "COPERNICUS/S2_SR"
	DefaultProbabilitySource = "COPERNICUS/S2_CLOUD_PROBABILITY"
	DefaultMaxLogFileSize    = 10 * 1024 * 1024
	DefaultMaxLogFiles       = 5
)

type ServiceConfig struct {
	ReflectanceSource string `json:"reflectance_source" yaml:"reflectance_source"`
	ProbabilitySource string `json:"probability_source" yaml:"probability_source"`
	Workers           int    `json:"workers" yaml:"workers"`
	MetricsAddress    string `json:"metrics_address" yaml:"metrics_address"`
	LogDir            string `json:"log_dir" yaml:"log_dir"`
	MaxLogFileSize    int64  `json:"max_log_file_size" yaml:"max_log_file_size"`
	MaxLogFiles       int    `json:"max_log_files" yaml:"max_log_files"`
	MemcacheAddress   string `json:"memcache_address" yaml:"memcache_address"`
	PostgresDSN       string `json:"postgres_dsn" yaml:"postgres_dsn"`
	TemplateDir       string `json:"template_dir" yaml:"template_dir"`
}

// MaskParams holds the tunables of the cloud and shadow masking stages.
// Thresholds follow the s2cloudless conventions: probabilities are in
// percent, reflectances are scaled integers divided by ReflectanceScale.
type MaskParams struct {
	CloudFilter        float64 `json:"cloud_filter" yaml:"cloud_filter"`
	CloudProbThresh    float64 `json:"cld_prb_thresh" yaml:"cld_prb_thresh"`
	NIRDarkThresh      float64 `json:"nir_drk_thresh" yaml:"nir_drk_thresh"`
	CloudProjDist      float64 `json:"cld_prj_dist" yaml:"cld_prj_dist"`
	Buffer             float64 `json:"buffer" yaml:"buffer"`
	NIRBand            string  `json:"nir_band" yaml:"nir_band"`
	SCLBand            string  `json:"scl_band" yaml:"scl_band"`
	ProbabilityBand    string  `json:"probability_band" yaml:"probability_band"`
	WaterClass         float64 `json:"water_class" yaml:"water_class"`
	ReflectanceScale   float64 `json:"reflectance_scale" yaml:"reflectance_scale"`
	ReflectancePattern string  `json:"reflectance_pattern" yaml:"reflectance_pattern"`
	ProjectionScale    float64 `json:"projection_scale" yaml:"projection_scale"`
	MaskScale          float64 `json:"mask_scale" yaml:"mask_scale"`
}

type Config struct {
	ServiceConfig ServiceConfig `json:"service_config" yaml:"service_config"`
	MaskParams    MaskParams    `json:"mask_params" yaml:"mask_params"`
}

func DefaultMaskParams() MaskParams {
	return MaskParams{
		CloudFilter:        60,
		CloudProbThresh:    60,
		NIRDarkThresh:      0.15,
		CloudProjDist:      2,
		Buffer:             100,
		NIRBand:            "B8",
		SCLBand:            "SCL",
		ProbabilityBand:    ProbabilityBand,
		WaterClass:         6,
		ReflectanceScale:   10000,
		ReflectancePattern: "^B.*",
		ProjectionScale:    100,
		MaskScale:          20,
	}
}

func NewConfig() *Config {
	return &Config{
		ServiceConfig: ServiceConfig{
			ReflectanceSource: DefaultReflectanceSource,
			ProbabilitySource: DefaultProbabilitySource,
			MaxLogFileSize:    DefaultMaxLogFileSize,
			MaxLogFiles:       DefaultMaxLogFiles,
		},
		MaskParams: DefaultMaskParams(),
	}
}

// ProjectionSteps is the cloud projection distance expressed in pixels
// at the projection scale.
func (p *MaskParams) ProjectionSteps() int {
	return int(math.Round(p.CloudProjDist * 1000 / p.ProjectionScale))
}

// BufferRadius is the dilation radius in pixels at the mask scale.
func (p *MaskParams) BufferRadius() float64 {
	return p.Buffer * 2 / p.MaskScale
}

func (p *MaskParams) ReflectanceRegexp() (*regexp.Regexp, error) {
	re, err := regexp.Compile(p.ReflectancePattern)
	if err != nil {
		return nil, &ParamError{Name: "reflectance_pattern", Value: p.ReflectancePattern, Reason: err.Error()}
	}
	return re, nil
}

// Upper bounds on the distance parameters. Both are in the units of the
// corresponding fields and keep the projection and dilation kernels finite.
const (
	MaxCloudProjDist = 50.0
	MaxBuffer        = 5000.0
)

// within reports whether v lies in [lo, hi]. NaN is never within a range.
func within(v, lo, hi float64) bool {
	return v >= lo && v <= hi
}

func finitePositive(v float64) bool {
	return v > 0 && !math.IsInf(v, 1)
}

func (p *MaskParams) Validate() error {
	if !within(p.CloudFilter, 0, 100) {
		return &ParamError{Name: "cloud_filter", Value: p.CloudFilter, Reason: "must be within [0, 100]"}
	}
	if !within(p.CloudProbThresh, 0, 100) {
		return &ParamError{Name: "cld_prb_thresh", Value: p.CloudProbThresh, Reason: "must be within [0, 100]"}
	}
	if !within(p.NIRDarkThresh, 0, 1) {
		return &ParamError{Name: "nir_drk_thresh", Value: p.NIRDarkThresh, Reason: "must be within [0, 1]"}
	}
	if !(p.CloudProjDist > 0 && p.CloudProjDist <= MaxCloudProjDist) {
		return &ParamError{Name: "cld_prj_dist", Value: p.CloudProjDist, Reason: fmt.Sprintf("must be within (0, %g]", MaxCloudProjDist)}
	}
	if !within(p.Buffer, 0, MaxBuffer) {
		return &ParamError{Name: "buffer", Value: p.Buffer, Reason: fmt.Sprintf("must be within [0, %g]", MaxBuffer)}
	}
	if math.IsNaN(p.WaterClass) || math.IsInf(p.WaterClass, 0) {
		return &ParamError{Name: "water_class", Value: p.WaterClass, Reason: "must be finite"}
	}
	if !finitePositive(p.ReflectanceScale) {
		return &ParamError{Name: "reflectance_scale", Value: p.ReflectanceScale, Reason: "must be positive and finite"}
	}
	if !finitePositive(p.ProjectionScale) {
		return &ParamError{Name: "projection_scale", Value: p.ProjectionScale, Reason: "must be positive and finite"}
	}
	if !finitePositive(p.MaskScale) {
		return &ParamError{Name: "mask_scale", Value: p.MaskScale, Reason: "must be positive and finite"}
	}
	for name, v := range map[string]string{"nir_band": p.NIRBand, "scl_band": p.SCLBand, "probability_band": p.ProbabilityBand} {
		if strings.TrimSpace(v) == "" {
			return &ParamError{Name: name, Value: v, Reason: "band name must not be empty"}
		}
	}
	_, err := p.ReflectanceRegexp()
	return err
}

func (config *Config) Validate() error {
	if config.ServiceConfig.Workers < 0 {
		return &ParamError{Name: "workers", Value: config.ServiceConfig.Workers, Reason: "must not be negative"}
	}
	if config.ServiceConfig.ReflectanceSource == config.ServiceConfig.ProbabilitySource {
		return &ParamError{Name: "probability_source", Value: config.ServiceConfig.ProbabilitySource, Reason: "must differ from reflectance_source"}
	}
	return config.MaskParams.Validate()
}

// LoadConfigFile reads a JSON or YAML config document on top of the
// defaults, so any key left out keeps its default value.
func (config *Config) LoadConfigFile(configFile string) error {
	*config = *NewConfig()
	cfg, err := ioutil.ReadFile(configFile)
	if err != nil {
		return fmt.Errorf("Error while reading config file: %s. Error: %v", configFile, err)
	}

	switch strings.ToLower(filepath.Ext(configFile)) {
	case ".yaml", ".yml":
		err = yaml.UnmarshalStrict(cfg, config)
		if err != nil {
			return fmt.Errorf("Error at YAML parsing config document: %s. Error: %v", configFile, err)
		}
	default:
		err = json.Unmarshal(cfg, config)
		if err != nil {
			return fmt.Errorf("Error at JSON parsing config document: %s. Error: %v", configFile, err)
		}
	}

	return config.Validate()
}

// LoadAllConfigFiles walks rootDir and loads every config.json or
// config.yaml found, keyed by its directory relative to rootDir.
func LoadAllConfigFiles(rootDir string) (map[string]*Config, error) {
	configMap := make(map[string]*Config)
	err := filepath.Walk(rootDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if info.IsDir() {
			return nil
		}
		switch info.Name() {
		case "config.json", "config.yaml", "config.yml":
		default:
			return nil
		}

		relPath, _ := filepath.Rel(rootDir, filepath.Dir(path))
		if _, found := configMap[relPath]; found {
			return fmt.Errorf("More than one config file under namespace: %s", relPath)
		}

		config := &Config{}
		if e := config.LoadConfigFile(path); e != nil {
			return e
		}
		configMap[relPath] = config
		return nil
	})

	if err == nil && len(configMap) == 0 {
		err = fmt.Errorf("No config file found")
	}

	return configMap, err
}

// DumpConfig renders the effective configuration in the given format.
func (config *Config) DumpConfig(format string) ([]byte, error) {
	switch strings.ToLower(format) {
	case "yaml", "yml":
		return yaml.Marshal(config)
	case "json", "":
		return json.MarshalIndent(config, "", "  ")
	default:
		return nil, fmt.Errorf("unknown config format: %s", format)
	}
}

// Package config loads configuration from file, environment, and the
// mounted secrets file.
package config

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
)

// Config holds the full application configuration.
type Config struct {
	Skid      SkidConfig      `yaml:"skid" mapstructure:"skid"`
	Speedtest SpeedtestConfig `yaml:"speedtest" mapstructure:"speedtest"`
	Census    CensusConfig    `yaml:"census" mapstructure:"census"`
	AGOL      AGOLConfig      `yaml:"agol" mapstructure:"agol"`
	Jitter    JitterConfig    `yaml:"jitter" mapstructure:"jitter"`
	Notify    NotifyConfig    `yaml:"notify" mapstructure:"notify"`
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// SkidConfig names the job and lists submissions to exclude.
type SkidConfig struct {
	Name                 string   `yaml:"name" mapstructure:"name"`
	InstitutionsToRemove []string `yaml:"institutions_to_remove" mapstructure:"institutions_to_remove"`
}

// SpeedtestConfig configures the submission export endpoint.
type SpeedtestConfig struct {
	BaseURL string `yaml:"base_url" mapstructure:"base_url"`
	State   string `yaml:"state" mapstructure:"state"`
	Record  string `yaml:"record" mapstructure:"record"`
}

// CensusConfig configures the ACS household-count request.
type CensusConfig struct {
	BaseURL string            `yaml:"base_url" mapstructure:"base_url"`
	Params  map[string]string `yaml:"params" mapstructure:"params"`
}

// AGOLConfig points at the hosted feature service and its two layers.
type AGOLConfig struct {
	OrgURL         string `yaml:"org_url" mapstructure:"org_url"`
	PointsLayerURL string `yaml:"points_layer_url" mapstructure:"points_layer_url"`
	CountyLayerURL string `yaml:"county_layer_url" mapstructure:"county_layer_url"`
}

// JitterConfig holds the privacy offset ranges, in meters.
type JitterConfig struct {
	GroupMin      int `yaml:"group_min" mapstructure:"group_min"`
	GroupMax      int `yaml:"group_max" mapstructure:"group_max"`
	IndividualMin int `yaml:"individual_min" mapstructure:"individual_min"`
	IndividualMax int `yaml:"individual_max" mapstructure:"individual_max"`
}

// NotifyConfig configures the summary email.
type NotifyConfig struct {
	From string   `yaml:"from" mapstructure:"from"`
	To   []string `yaml:"to" mapstructure:"to"`
}

// StoreConfig configures the run-history database.
type StoreConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// ServerConfig configures the push-subscription server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("SPEEDTEST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("skid.name", "broadband-speedtest")
	v.SetDefault("skid.institutions_to_remove", []string{"Utah Education Network"})
	v.SetDefault("speedtest.base_url", "https://speedtest.utah.gov/api/exportdata")
	v.SetDefault("speedtest.state", "utah")
	v.SetDefault("speedtest.record", "all")
	v.SetDefault("census.base_url", "https://api.census.gov/data/2019/acs/acs5/profile")
	v.SetDefault("census.params", map[string]string{
		"get": "DP02_0001E,NAME",
		"for": "county:*",
		"in":  "state:49",
	})
	v.SetDefault("agol.org_url", "https://www.arcgis.com")
	v.SetDefault("jitter.group_min", -150)
	v.SetDefault("jitter.group_max", 150)
	v.SetDefault("jitter.individual_min", -20)
	v.SetDefault("jitter.individual_max", 20)
	v.SetDefault("store.path", "runs.db")
	v.SetDefault("server.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

package config

import (
	"fmt"
	"strings"

	"img-budget-go/internal/batch"
	"img-budget-go/internal/compressor"

	"github.com/spf13/viper"
)

// MiB is one mebibyte in bytes.
const MiB = 1024 * 1024

// Config represents the main configuration structure
type Config struct {
	SourceDirectory     string         `mapstructure:"source_directory"`
	OutputDirectory     string         `mapstructure:"output_directory"`
	BackupDirectory     string         `mapstructure:"backup_directory"`
	SupportedExtensions []string       `mapstructure:"supported_extensions"`
	OutputExtension     string         `mapstructure:"output_extension"`
	Budget              BudgetConfig   `mapstructure:"budget"`
	Metadata            MetadataConfig `mapstructure:"metadata"`
	Security            SecurityConfig `mapstructure:"security"`
	Logging             LoggingConfig  `mapstructure:"logging"`
}

// BudgetConfig contains the byte budget and the compression ladder
type BudgetConfig struct {
	TargetBytes int64              `mapstructure:"target_bytes"`
	Moderate    compressor.Setting `mapstructure:"moderate"`
	Aggressive  compressor.Setting `mapstructure:"aggressive"`
	Floor       compressor.Setting `mapstructure:"floor"`
	QualityStep int                `mapstructure:"quality_step"`
	WidthStep   int                `mapstructure:"width_step"`
}

// MetadataConfig contains output metadata settings
type MetadataConfig struct {
	StampSoftware bool   `mapstructure:"stamp_software"`
	SoftwareTag   string `mapstructure:"software_tag"`
}

// SecurityConfig contains safety settings
type SecurityConfig struct {
	DryRun bool `mapstructure:"dry_run"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	FilePath   string `mapstructure:"file_path"`
	MaxSize    int    `mapstructure:"max_size"` // MB
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"` // days
	Compress   bool   `mapstructure:"compress"`
}

// DefaultConfig returns the fixed pipeline: img is compressed into
// img_compressed until it fits in 1 MiB, then swapped with img_original as
// the backup.
func DefaultConfig() *Config {
	return &Config{
		SourceDirectory:     "img",
		OutputDirectory:     "img_compressed",
		BackupDirectory:     "img_original",
		SupportedExtensions: []string{".png"},
		OutputExtension:     ".jpg",
		Budget: BudgetConfig{
			TargetBytes: 1 * MiB,
			Moderate:    compressor.Setting{Quality: 75, MaxWidth: 1000},
			Aggressive:  compressor.Setting{Quality: 50, MaxWidth: 800},
			Floor:       compressor.Setting{Quality: 20, MaxWidth: 400},
			QualityStep: 10,
			WidthStep:   100,
		},
		Metadata: MetadataConfig{
			StampSoftware: false,
			SoftwareTag:   compressor.DefaultSoftwareTag,
		},
		Security: SecurityConfig{
			DryRun: false,
		},
		Logging: LoggingConfig{
			Level:      "info",
			FilePath:   "",
			MaxSize:    10,
			MaxBackups: 3,
			MaxAge:     30,
			Compress:   true,
		},
	}
}

// LoadConfig loads configuration from file and environment variables. A
// missing config file is not an error; the defaults are used.
func LoadConfig(configPath string) (*Config, error) {
	return load(viper.New(), configPath)
}

func load(v *viper.Viper, configPath string) (*Config, error) {
	config := DefaultConfig()

	v.SetConfigType("yaml")

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.img-budget")
		v.AddConfigPath("/etc/img-budget")
	}

	v.SetEnvPrefix("IMG_BUDGET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindDefaults(v, config)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// bindDefaults registers every key so AutomaticEnv can override keys that
// are absent from the config file.
func bindDefaults(v *viper.Viper, c *Config) {
	v.SetDefault("source_directory", c.SourceDirectory)
	v.SetDefault("output_directory", c.OutputDirectory)
	v.SetDefault("backup_directory", c.BackupDirectory)
	v.SetDefault("supported_extensions", c.SupportedExtensions)
	v.SetDefault("output_extension", c.OutputExtension)
	v.SetDefault("budget.target_bytes", c.Budget.TargetBytes)
	v.SetDefault("budget.moderate.quality", c.Budget.Moderate.Quality)
	v.SetDefault("budget.moderate.max_width", c.Budget.Moderate.MaxWidth)
	v.SetDefault("budget.aggressive.quality", c.Budget.Aggressive.Quality)
	v.SetDefault("budget.aggressive.max_width", c.Budget.Aggressive.MaxWidth)
	v.SetDefault("budget.floor.quality", c.Budget.Floor.Quality)
	v.SetDefault("budget.floor.max_width", c.Budget.Floor.MaxWidth)
	v.SetDefault("budget.quality_step", c.Budget.QualityStep)
	v.SetDefault("budget.width_step", c.Budget.WidthStep)
	v.SetDefault("metadata.stamp_software", c.Metadata.StampSoftware)
	v.SetDefault("metadata.software_tag", c.Metadata.SoftwareTag)
	v.SetDefault("security.dry_run", c.Security.DryRun)
	v.SetDefault("logging.level", c.Logging.Level)
	v.SetDefault("logging.file_path", c.Logging.FilePath)
	v.SetDefault("logging.max_size", c.Logging.MaxSize)
	v.SetDefault("logging.max_backups", c.Logging.MaxBackups)
	v.SetDefault("logging.max_age", c.Logging.MaxAge)
	v.SetDefault("logging.compress", c.Logging.Compress)
}

// Validate validates and normalizes the configuration
func (c *Config) Validate() error {
	if c.SourceDirectory == "" {
		return fmt.Errorf("source_directory is required")
	}
	if c.OutputDirectory == "" {
		return fmt.Errorf("output_directory is required")
	}
	if c.BackupDirectory == "" {
		return fmt.Errorf("backup_directory is required")
	}
	if c.SourceDirectory == c.OutputDirectory || c.SourceDirectory == c.BackupDirectory ||
		c.OutputDirectory == c.BackupDirectory {
		return fmt.Errorf("source, output and backup directories must differ")
	}

	if len(c.SupportedExtensions) == 0 {
		return fmt.Errorf("supported_extensions must not be empty")
	}
	c.SupportedExtensions = normalizeExtensions(c.SupportedExtensions)
	if c.OutputExtension == "" {
		c.OutputExtension = ".jpg"
	}
	c.OutputExtension = batch.NormalizeExt(c.OutputExtension)

	b := c.Budget
	if b.TargetBytes <= 0 {
		return fmt.Errorf("budget.target_bytes must be positive, got %d", b.TargetBytes)
	}
	settings := []struct {
		name string
		s    compressor.Setting
	}{
		{"moderate", b.Moderate},
		{"aggressive", b.Aggressive},
		{"floor", b.Floor},
	}
	for _, s := range settings {
		if err := s.s.Validate(); err != nil {
			return fmt.Errorf("budget.%s: %w", s.name, err)
		}
	}
	if !b.Aggressive.MoreAggressiveThan(b.Moderate) {
		return fmt.Errorf("budget.aggressive %s must be more aggressive than budget.moderate %s", b.Aggressive, b.Moderate)
	}
	if b.Floor.Quality > b.Aggressive.Quality || b.Floor.MaxWidth > b.Aggressive.MaxWidth {
		return fmt.Errorf("budget.floor %s must not exceed budget.aggressive %s", b.Floor, b.Aggressive)
	}
	if b.QualityStep <= 0 {
		return fmt.Errorf("budget.quality_step must be positive, got %d", b.QualityStep)
	}
	if b.WidthStep <= 0 {
		return fmt.Errorf("budget.width_step must be positive, got %d", b.WidthStep)
	}

	if c.Metadata.SoftwareTag == "" {
		c.Metadata.SoftwareTag = compressor.DefaultSoftwareTag
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", c.Logging.Level)
	}

	return nil
}

// CompressionParams builds the parameters of a compressor run from the budget
// section. Assets and run id are filled in by the caller.
func (c *Config) CompressionParams() compressor.CompressionParams {
	return compressor.CompressionParams{
		OutputDir:   c.OutputDirectory,
		Budget:      c.Budget.TargetBytes,
		Moderate:    c.Budget.Moderate,
		Aggressive:  c.Budget.Aggressive,
		Floor:       c.Budget.Floor,
		QualityStep: c.Budget.QualityStep,
		WidthStep:   c.Budget.WidthStep,
	}
}

func normalizeExtensions(extensions []string) []string {
	normalized := make([]string, len(extensions))
	for i, ext := range extensions {
		normalized[i] = batch.NormalizeExt(ext)
	}
	return normalized
}

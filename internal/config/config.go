package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/aravindh-murugesan/rackspace-cpi-go/internal/cloud"
	"github.com/aravindh-murugesan/rackspace-cpi-go/internal/cloud/openstack"
	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. CPI_RACKSPACE_API_KEY.
const EnvPrefix = "CPI"

// Options is the full CPI configuration.
type Options struct {
	Rackspace RackspaceOptions `mapstructure:"rackspace"`
	Registry  RegistryOptions  `mapstructure:"registry"`
	Agent     map[string]any   `mapstructure:"agent"`
	Retry     RetryOptions     `mapstructure:"retry"`
	Wait      WaitOptions      `mapstructure:"wait"`
	Volume    VolumeOptions    `mapstructure:"volume"`
	Stemcell  StemcellOptions  `mapstructure:"stemcell"`
}

// RackspaceOptions are the provider credentials and endpoint selection.
type RackspaceOptions struct {
	Username     string `mapstructure:"username" validate:"required"`
	APIKey       string `mapstructure:"api_key" validate:"required"`
	AuthURL      string `mapstructure:"auth_url"`
	Region       string `mapstructure:"region"`
	TenantName   string `mapstructure:"tenant_name"`
	DomainName   string `mapstructure:"domain_name"`
	EndpointType string `mapstructure:"endpoint_type"`

	// Cloud selects a clouds.yaml profile; when set it takes precedence over the fields above.
	Cloud string `mapstructure:"cloud"`
}

// RegistryOptions locate the agent settings registry.
type RegistryOptions struct {
	Endpoint string `mapstructure:"endpoint" validate:"required"`
	User     string `mapstructure:"user" validate:"required"`
	Password string `mapstructure:"password" validate:"required"`
}

// RetryOptions tune the rate-limit retries.
type RetryOptions struct {
	MaxRetries        int           `mapstructure:"max_retries" validate:"gte=0"`
	DefaultRetryAfter time.Duration `mapstructure:"default_retry_after" validate:"gte=0"`
}

// WaitOptions tune resource polling.
type WaitOptions struct {
	MaxTries int `mapstructure:"max_tries" validate:"gte=1"`
}

// VolumeOptions tune volume creation.
type VolumeOptions struct {
	MinSizeGiB int `mapstructure:"min_size_gib" validate:"gte=0"`
}

// StemcellOptions tune stemcell validation.
type StemcellOptions struct {
	Infrastructure string `mapstructure:"infrastructure"`
}

// Defaults returns Options with every optional value set.
func Defaults() Options {
	return Options{
		Retry: RetryOptions{
			MaxRetries:        cloud.DefaultMaxRetries,
			DefaultRetryAfter: cloud.DefaultRetryAfter,
		},
		Wait:     WaitOptions{MaxTries: cloud.DefaultMaxTries},
		Volume:   VolumeOptions{MinSizeGiB: openstack.DefaultMinVolumeSizeGiB},
		Stemcell: StemcellOptions{Infrastructure: openstack.DefaultInfrastructure},
	}
}

// Load reads the configuration file at path (JSON or YAML), applies CPI_* environment
// overrides and defaults, and validates the result.
func Load(path string) (*Options, error) {
	v := newViper()

	v.SetConfigFile(path)
	if filepath.Ext(path) == "" {
		v.SetConfigType("json")
	}
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	return decode(v)
}

// FromMap builds Options from an already parsed configuration object.
func FromMap(values map[string]any) (*Options, error) {
	v := newViper()
	if err := v.MergeConfigMap(values); err != nil {
		return nil, fmt.Errorf("merging config: %w", err)
	}
	return decode(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setViperDefaults(v, Defaults())

	// Required keys have no default, so bind them explicitly for env lookups to reach Unmarshal.
	for _, key := range []string{
		"rackspace.username", "rackspace.api_key",
		"registry.endpoint", "registry.user", "registry.password",
	} {
		_ = v.BindEnv(key)
	}
	return v
}

func setViperDefaults(v *viper.Viper, cfg Options) {
	v.SetDefault("retry.max_retries", cfg.Retry.MaxRetries)
	v.SetDefault("retry.default_retry_after", cfg.Retry.DefaultRetryAfter)
	v.SetDefault("wait.max_tries", cfg.Wait.MaxTries)
	v.SetDefault("volume.min_size_gib", cfg.Volume.MinSizeGiB)
	v.SetDefault("stemcell.infrastructure", cfg.Stemcell.Infrastructure)
}

func decode(v *viper.Viper) (*Options, error) {
	opts := Defaults()

	decoderOpt := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToBasicTypeHookFunc(),
	))
	if err := v.Unmarshal(&opts, decoderOpt); err != nil {
		return nil, cloud.ConfigurationError("Invalid configuration: %v", err)
	}

	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &opts, nil
}

var validate = newValidator()

func newValidator() *validator.Validate {
	val := validator.New(validator.WithRequiredStructEnabled())
	val.RegisterTagNameFunc(func(field reflect.StructField) string {
		name, _, _ := strings.Cut(field.Tag.Get("mapstructure"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return val
}

// Validate checks required keys and value ranges. Every missing key is reported at once as
// "group:key" before any provider connection is attempted.
func (o *Options) Validate() error {
	err := validate.Struct(o)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return cloud.ConfigurationError("Invalid configuration: %v", err)
	}

	var missing, invalid []string
	for _, fe := range fieldErrs {
		key := fieldKey(fe.Namespace())
		if fe.Tag() == "required" {
			missing = append(missing, key)
			continue
		}
		invalid = append(invalid, fmt.Sprintf("%s (%s=%s)", key, fe.Tag(), fe.Param()))
	}

	if len(missing) > 0 {
		return cloud.ConfigurationError("Missing configuration parameters: %s", strings.Join(missing, ", "))
	}
	return cloud.ConfigurationError("Invalid configuration parameters: %s", strings.Join(invalid, ", "))
}

// fieldKey turns "Options.rackspace.api_key" into "rackspace:api_key".
func fieldKey(namespace string) string {
	parts := strings.Split(namespace, ".")
	if len(parts) > 1 {
		parts = parts[1:]
	}
	return strings.Join(parts, ":")
}

// Credentials returns the provider credentials.
func (o *Options) Credentials() openstack.Credentials {
	return openstack.Credentials{
		AuthURL:      o.Rackspace.AuthURL,
		Username:     o.Rackspace.Username,
		APIKey:       o.Rackspace.APIKey,
		Region:       o.Rackspace.Region,
		TenantName:   o.Rackspace.TenantName,
		DomainName:   o.Rackspace.DomainName,
		EndpointType: o.Rackspace.EndpointType,
	}
}

// RetryConfig returns the rate-limit policy.
func (o *Options) RetryConfig() cloud.RetryConfig {
	return cloud.RetryConfig{
		MaxRetries:        o.Retry.MaxRetries,
		DefaultRetryAfter: o.Retry.DefaultRetryAfter,
	}
}

// WaitConfig returns the polling policy.
func (o *Options) WaitConfig() cloud.WaitConfig {
	cfg := cloud.DefaultWaitConfig()
	cfg.MaxTries = o.Wait.MaxTries
	return cfg
}

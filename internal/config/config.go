package config

import (
	"fmt"
	"log"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Port        string `mapstructure:"PORT"`
	Env         string `mapstructure:"ENV"`
	DatabaseURL string `mapstructure:"DATABASE_URL"`
	DBMaxConns  int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns  int32  `mapstructure:"DB_MIN_CONNS"`

	CORSOrigins    []string `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS   float64  `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int      `mapstructure:"RATE_LIMIT_BURST"`

	// AuthSecret verifies API bearer tokens (HS256). Required outside
	// development mode.
	AuthSecret string `mapstructure:"AUTH_SECRET"`

	// Medprax lookup API. An empty username disables the client and the
	// engine runs on the reference store plus built-in fallbacks.
	MedpraxAuthURL    string `mapstructure:"MEDPRAX_AUTH_URL"`
	MedpraxTariffURL  string `mapstructure:"MEDPRAX_TARIFF_URL"`
	MedpraxProductURL string `mapstructure:"MEDPRAX_PRODUCT_URL"`
	MedpraxUsername   string `mapstructure:"MEDPRAX_USERNAME"`
	MedpraxPassword   string `mapstructure:"MEDPRAX_PASSWORD"`
	MedpraxYear       string `mapstructure:"MEDPRAX_YEAR"`
	MedpraxPlanOption string `mapstructure:"MEDPRAX_PLAN_OPTION"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8080")
	v.SetDefault("ENV", "development")
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 5)
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 100)
	v.SetDefault("RATE_LIMIT_BURST", 200)
	v.SetDefault("MEDPRAX_AUTH_URL", "https://auth.api.medprax.co.za/api/v1/authenticate/login/username")
	v.SetDefault("MEDPRAX_TARIFF_URL", "https://tariffs.api.medprax.co.za/api/v1")
	v.SetDefault("MEDPRAX_PRODUCT_URL", "https://products.api.medprax.co.za/api/v1")
	v.SetDefault("MEDPRAX_YEAR", "2026")
	v.SetDefault("MEDPRAX_PLAN_OPTION", "39I")

	// Bind env vars explicitly so Unmarshal picks them up
	v.BindEnv("PORT")
	v.BindEnv("ENV")
	v.BindEnv("DATABASE_URL")
	v.BindEnv("DB_MAX_CONNS")
	v.BindEnv("DB_MIN_CONNS")
	v.BindEnv("CORS_ORIGINS")
	v.BindEnv("RATE_LIMIT_RPS")
	v.BindEnv("RATE_LIMIT_BURST")
	v.BindEnv("AUTH_SECRET")
	v.BindEnv("MEDPRAX_AUTH_URL")
	v.BindEnv("MEDPRAX_TARIFF_URL")
	v.BindEnv("MEDPRAX_PRODUCT_URL")
	v.BindEnv("MEDPRAX_USERNAME")
	v.BindEnv("MEDPRAX_PASSWORD")
	v.BindEnv("MEDPRAX_YEAR")
	v.BindEnv("MEDPRAX_PLAN_OPTION")

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.CORSOrigins == nil {
		origins := v.GetString("CORS_ORIGINS")
		if origins != "" {
			cfg.CORSOrigins = strings.Split(origins, ",")
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.IsDev() {
		log.Println("WARNING: server is running in DEVELOPMENT mode (ENV=development).")
		log.Println("WARNING: bearer-token auth is disabled. Do NOT use this in production.")
	}

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// MedpraxEnabled reports whether the external lookup client is configured.
func (c *Config) MedpraxEnabled() bool {
	return c.MedpraxUsername != ""
}

// Validate checks that the configuration is safe to run. Outside development
// mode AUTH_SECRET must be set so the calculation endpoints are not left open.
func (c *Config) Validate() error {
	if !c.IsDev() && c.AuthSecret == "" {
		return fmt.Errorf("AUTH_SECRET is required when ENV=%q", c.Env)
	}
	if c.MedpraxEnabled() && c.MedpraxPassword == "" {
		return fmt.Errorf("MEDPRAX_PASSWORD is required when MEDPRAX_USERNAME is set")
	}
	return nil
}

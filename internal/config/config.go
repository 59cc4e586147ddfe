package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	NATS     NATSConfig     `yaml:"nats"`
	MinIO    MinIOConfig    `yaml:"minio"`
	Gate     GateConfig     `yaml:"gate"`
	Faces    FacesConfig    `yaml:"faces"`
	Vision   VisionConfig   `yaml:"vision"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type ServerConfig struct {
	Port   int    `yaml:"port"`
	APIKey string `yaml:"api_key"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	MaxConns int    `yaml:"max_conns"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

type NATSConfig struct {
	URL string `yaml:"url"`
}

type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
}

type GateConfig struct {
	// MatchThreshold is the maximum embedding distance accepted as a
	// match. Lower is stricter.
	MatchThreshold float64 `yaml:"match_threshold"`
	// SessionTTL is the maximum idle time before an access session is
	// considered abandoned.
	SessionTTL    time.Duration `yaml:"session_ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
	// AllowInferredUID lets a frame submission without an explicit uid
	// target the most recently active pending session. Compatibility
	// shim for single-door installs; leave off when several doors share
	// one service.
	AllowInferredUID bool `yaml:"allow_inferred_uid"`
}

type FacesConfig struct {
	// Backend selects where reference embeddings live: "dir" (a folder
	// of <uid>.jpg files) or "postgres".
	Backend      string `yaml:"backend"`
	ReferenceDir string `yaml:"reference_dir"`
}

type VisionConfig struct {
	ModelsDir          string  `yaml:"models_dir"`
	DetectionThreshold float64 `yaml:"detection_threshold"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads config from YAML file and applies environment variable overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	applyEnvOverrides(cfg)
	setDefaults(cfg)

	return cfg, nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = 20
	}
	if cfg.Gate.MatchThreshold == 0 {
		cfg.Gate.MatchThreshold = 0.50
	}
	if cfg.Gate.SessionTTL == 0 {
		cfg.Gate.SessionTTL = 45 * time.Second
	}
	if cfg.Gate.SweepInterval == 0 {
		cfg.Gate.SweepInterval = time.Minute
	}
	if cfg.Faces.Backend == "" {
		cfg.Faces.Backend = "dir"
	}
	if cfg.Faces.ReferenceDir == "" {
		cfg.Faces.ReferenceDir = "face_data"
	}
	if cfg.Vision.DetectionThreshold == 0 {
		cfg.Vision.DetectionThreshold = 0.5
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DG_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("DG_API_KEY"); v != "" {
		cfg.Server.APIKey = v
	}
	if v := os.Getenv("DG_DB_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("DG_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("DG_DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("DG_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("DG_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("DG_NATS_URL"); v != "" {
		cfg.NATS.URL = v
	}
	if v := os.Getenv("DG_MINIO_ENDPOINT"); v != "" {
		cfg.MinIO.Endpoint = v
	}
	if v := os.Getenv("DG_MINIO_ACCESS_KEY"); v != "" {
		cfg.MinIO.AccessKey = v
	}
	if v := os.Getenv("DG_MINIO_SECRET_KEY"); v != "" {
		cfg.MinIO.SecretKey = v
	}
	if v := os.Getenv("DG_MINIO_BUCKET"); v != "" {
		cfg.MinIO.Bucket = v
	}
	if v := os.Getenv("DG_MATCH_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Gate.MatchThreshold = f
		}
	}
	if v := os.Getenv("DG_SESSION_TTL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Gate.SessionTTL = d
		}
	}
	if v := os.Getenv("DG_FACES_BACKEND"); v != "" {
		cfg.Faces.Backend = v
	}
	if v := os.Getenv("DG_REFERENCE_DIR"); v != "" {
		cfg.Faces.ReferenceDir = v
	}
	if v := os.Getenv("DG_MODELS_DIR"); v != "" {
		cfg.Vision.ModelsDir = v
	}
}

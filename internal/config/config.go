package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	App       AppConfig
	Server    ServerConfig
	Roboflow  RoboflowConfig
	Storage   StorageConfig
	S3        S3Config
	Database  DatabaseConfig
	Detector  DetectorConfig
	Planner   PlannerConfig
	Hierarchy HierarchyConfig
	Logger    LoggerConfig
}

type AppConfig struct {
	Name    string `validate:"required"`
	Version string `validate:"required"`
	Env     string `validate:"required,oneof=development staging production test local"`
}

type ServerConfig struct {
	Host string
	Port int `validate:"gte=1,lte=65535"`
}

type RoboflowConfig struct {
	APIKey  string
	APIURL  string        `validate:"required,url"`
	Timeout time.Duration `validate:"gt=0"`
}

type StorageConfig struct {
	BaseDir         string `validate:"required"`
	ManifestsDir    string `validate:"required"`
	ArtifactsDir    string `validate:"required"`
	LogsDir         string `validate:"required"`
	ArtifactBackend string `validate:"oneof=file s3"`
	ManifestBackend string `validate:"oneof=file postgres"`
}

type S3Config struct {
	Endpoint  string `validate:"required_if=Enabled true"`
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string `validate:"required_if=Enabled true"`
	Prefix    string
	UseSSL    bool
	Enabled   bool
}

type DatabaseConfig struct {
	URL      string `validate:"required_if=Enabled true"`
	MaxConns int    `validate:"gte=1"`
	Enabled  bool
}

// DetectorConfig carries the detection rule tables as "NAME=FAMILY" lists so
// that new architecture generations can be recognised without a release.
type DetectorConfig struct {
	Markers         string `validate:"required"`
	FilenameRules   string `validate:"required"`
	SupportedFamily string `validate:"required"`
	KnownBlocks     string
	StrictPrefixes  string
	StrictLoad      bool
}

type PlannerConfig struct {
	TTL       time.Duration `validate:"gt=0"`
	CacheSize int           `validate:"gte=1"`
}

type HierarchyConfig struct {
	CacheTTL  time.Duration
	CacheSize int `validate:"gte=1"`
}

type LoggerConfig struct {
	Level  string `validate:"required"`
	Format string `validate:"oneof=json text"`
	File   string
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func Load() (*Config, error) {
	// .env files are optional
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load()

	v := viper.New()

	// Defaults
	v.SetDefault("APP_NAME", "model-uploader")
	v.SetDefault("APP_VERSION", "0.1.0")
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("SERVER_HOST", "0.0.0.0")
	v.SetDefault("SERVER_PORT", 8080)
	v.SetDefault("ROBOFLOW_API_URL", "https://api.roboflow.com")
	v.SetDefault("ROBOFLOW_TIMEOUT", "30s")
	v.SetDefault("BASE_DIR", ".")
	v.SetDefault("ARTIFACT_BACKEND", "file")
	v.SetDefault("MANIFEST_BACKEND", "file")
	v.SetDefault("ARTIFACT_S3_REGION", "us-east-1")
	v.SetDefault("ARTIFACT_S3_BUCKET", "model-uploader-artifacts")
	v.SetDefault("ARTIFACT_S3_PREFIX", "artifacts")
	v.SetDefault("ARTIFACT_S3_USE_SSL", true)
	v.SetDefault("DATABASE_MAX_CONNS", 5)
	v.SetDefault("DETECTOR_MARKERS", "C3k2=V11,C2PSA=V11,C2f=V8,C3=V5")
	v.SetDefault("DETECTOR_FILENAME_RULES", "yolo11=V11,yolov11=V11,v11=V11,yolov8=V8,v8=V8,yolov5=V5,v5=V5")
	v.SetDefault("DETECTOR_SUPPORTED_FAMILY", "V8")
	v.SetDefault("DETECTOR_KNOWN_BLOCKS", "")
	v.SetDefault("DETECTOR_STRICT_PREFIXES", "ultralytics.nn,models.common,models.yolo")
	v.SetDefault("DETECTOR_STRICT_LOAD", false)
	v.SetDefault("PLAN_TTL", "15m")
	v.SetDefault("PLAN_CACHE_SIZE", 256)
	v.SetDefault("HIERARCHY_CACHE_TTL", "1m")
	v.SetDefault("HIERARCHY_CACHE_SIZE", 128)
	v.SetDefault("LOGGER_LEVEL", "info")
	v.SetDefault("LOGGER_FORMAT", "json")
	v.SetDefault("LOGGER_FILE", "")

	// Env
	v.AutomaticEnv()

	baseDir := v.GetString("BASE_DIR")

	timeout, err := parseDuration(v, "ROBOFLOW_TIMEOUT")
	if err != nil {
		return nil, err
	}
	planTTL, err := parseDuration(v, "PLAN_TTL")
	if err != nil {
		return nil, err
	}
	hierarchyTTL, err := parseDuration(v, "HIERARCHY_CACHE_TTL")
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		App: AppConfig{
			Name:    v.GetString("APP_NAME"),
			Version: v.GetString("APP_VERSION"),
			Env:     v.GetString("APP_ENV"),
		},
		Server: ServerConfig{
			Host: v.GetString("SERVER_HOST"),
			Port: v.GetInt("SERVER_PORT"),
		},
		Roboflow: RoboflowConfig{
			APIKey:  strings.TrimSpace(v.GetString("ROBOFLOW_API_KEY")),
			APIURL:  strings.TrimRight(v.GetString("ROBOFLOW_API_URL"), "/"),
			Timeout: timeout,
		},
		Storage: StorageConfig{
			BaseDir:         baseDir,
			ManifestsDir:    dirOrDefault(v, "MANIFESTS_DIR", baseDir, "manifests"),
			ArtifactsDir:    dirOrDefault(v, "ARTIFACTS_DIR", baseDir, "artifacts"),
			LogsDir:         dirOrDefault(v, "LOGS_DIR", baseDir, "logs"),
			ArtifactBackend: strings.ToLower(v.GetString("ARTIFACT_BACKEND")),
			ManifestBackend: strings.ToLower(v.GetString("MANIFEST_BACKEND")),
		},
		S3: S3Config{
			Endpoint:  v.GetString("ARTIFACT_S3_ENDPOINT"),
			Region:    v.GetString("ARTIFACT_S3_REGION"),
			AccessKey: v.GetString("ARTIFACT_S3_ACCESS_KEY"),
			SecretKey: v.GetString("ARTIFACT_S3_SECRET_KEY"),
			Bucket:    v.GetString("ARTIFACT_S3_BUCKET"),
			Prefix:    v.GetString("ARTIFACT_S3_PREFIX"),
			UseSSL:    v.GetBool("ARTIFACT_S3_USE_SSL"),
		},
		Database: DatabaseConfig{
			URL:      v.GetString("DATABASE_URL"),
			MaxConns: v.GetInt("DATABASE_MAX_CONNS"),
		},
		Detector: DetectorConfig{
			Markers:         v.GetString("DETECTOR_MARKERS"),
			FilenameRules:   v.GetString("DETECTOR_FILENAME_RULES"),
			SupportedFamily: v.GetString("DETECTOR_SUPPORTED_FAMILY"),
			KnownBlocks:     v.GetString("DETECTOR_KNOWN_BLOCKS"),
			StrictPrefixes:  v.GetString("DETECTOR_STRICT_PREFIXES"),
			StrictLoad:      v.GetBool("DETECTOR_STRICT_LOAD"),
		},
		Planner: PlannerConfig{
			TTL:       planTTL,
			CacheSize: v.GetInt("PLAN_CACHE_SIZE"),
		},
		Hierarchy: HierarchyConfig{
			CacheTTL:  hierarchyTTL,
			CacheSize: v.GetInt("HIERARCHY_CACHE_SIZE"),
		},
		Logger: LoggerConfig{
			Level:  v.GetString("LOGGER_LEVEL"),
			Format: strings.ToLower(v.GetString("LOGGER_FORMAT")),
			File:   v.GetString("LOGGER_FILE"),
		},
	}
	cfg.S3.Enabled = cfg.Storage.ArtifactBackend == "s3"
	cfg.Database.Enabled = cfg.Storage.ManifestBackend == "postgres"

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// EventsFile is the JSONL event log path.
func (c *Config) EventsFile() string {
	return filepath.Join(c.Storage.LogsDir, "events.jsonl")
}

// MaskSecret keeps the first and last two characters of s.
func MaskSecret(s string) string {
	if len(s) <= 4 {
		return strings.Repeat("*", len(s))
	}
	return s[:2] + "***" + s[len(s)-2:]
}

func parseDuration(v *viper.Viper, key string) (time.Duration, error) {
	d, err := time.ParseDuration(v.GetString(key))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func dirOrDefault(v *viper.Viper, key, base, name string) string {
	if dir := strings.TrimSpace(v.GetString(key)); dir != "" {
		return dir
	}
	return filepath.Join(base, name)
}

// ParseRules splits a "KEY=VALUE,KEY=VALUE" list, keeping order.
func ParseRules(s string) ([][2]string, error) {
	var rules [][2]string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		k, val, ok := strings.Cut(part, "=")
		k, val = strings.TrimSpace(k), strings.TrimSpace(val)
		if !ok || k == "" || val == "" {
			return nil, fmt.Errorf("invalid rule %q: expected KEY=VALUE", part)
		}
		rules = append(rules, [2]string{k, val})
	}
	return rules, nil
}

// SplitList splits a comma separated list, dropping blanks.
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

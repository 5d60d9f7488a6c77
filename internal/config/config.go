package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

type LogLevel string

const (
	LogLevelDebug LogLevel = "debug"
	LogLevelInfo  LogLevel = "info"
	LogLevelWarn  LogLevel = "warn"
	LogLevelError LogLevel = "error"
)

type OverwriteMode string

const (
	OverwriteNever  OverwriteMode = "never"
	OverwriteSize   OverwriteMode = "size"
	OverwriteAlways OverwriteMode = "always"
)

// Vocabulary is the portal-specific pattern table driving page
// classification. The defaults match the live Blackboard portal; the table is
// injectable so the vocabulary can be swapped without touching control flow.
type Vocabulary struct {
	FolderEndpoints      []string `yaml:"folder_endpoints"`
	FilePathMarkers      []string `yaml:"file_path_markers"`
	DownloadMarkers      []string `yaml:"download_markers"`
	NextPageLabel        string   `yaml:"next_page_label"`
	AnnouncementKeywords []string `yaml:"announcement_keywords"`
	DatePattern          string   `yaml:"date_pattern"`
}

// SyncConfig is the run-scoped configuration of the engine. Timeouts are
// seconds, the pagination delay is milliseconds.
type SyncConfig struct {
	DownloadDir         string        `yaml:"download_dir"`
	ReportsDir          string        `yaml:"reports_dir"`
	Overwrite           OverwriteMode `yaml:"overwrite"`
	ConcurrentDownloads int           `yaml:"concurrent_downloads"`
	ProbeTimeoutSec     int           `yaml:"probe_timeout"`
	DownloadTimeoutSec  int           `yaml:"download_timeout"`
	PageTimeoutSec      int           `yaml:"page_timeout"`
	PageDelayMS         int           `yaml:"page_delay_ms"`
}

func (c *SyncConfig) ProbeTimeout() time.Duration {
	return time.Duration(c.ProbeTimeoutSec) * time.Second
}

func (c *SyncConfig) DownloadTimeout() time.Duration {
	return time.Duration(c.DownloadTimeoutSec) * time.Second
}

func (c *SyncConfig) PageTimeout() time.Duration {
	return time.Duration(c.PageTimeoutSec) * time.Second
}

func (c *SyncConfig) PageDelay() time.Duration {
	return time.Duration(c.PageDelayMS) * time.Millisecond
}

type Config struct {
	LogLevel   LogLevel   `yaml:"log_level"`
	Sync       SyncConfig `yaml:"sync"`
	Vocabulary Vocabulary `yaml:"vocabulary"`
}

func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}

	return cfg
}

// Load reads the YAML config, expanding ${VAR} references after overlaying a
// .env file if one exists next to the working directory. Portal credentials
// for the out-of-scope login layer live in env, never in the YAML.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file: %w", err)
	}
	cfg.applyDefaults()

	return cfg, nil
}

func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()

	return cfg
}

func (c *Config) applyDefaults() {
	if c.LogLevel == "" {
		c.LogLevel = LogLevelInfo
	}

	s := &c.Sync
	if s.DownloadDir == "" {
		s.DownloadDir = defaultDir(filepath.Join("Downloads", "PKU_Courses"), "PKU_Courses")
	}
	if s.ReportsDir == "" {
		s.ReportsDir = defaultDir(filepath.Join(".pkuget", "reports"), "reports")
	}
	if s.Overwrite == "" {
		s.Overwrite = OverwriteNever
	}
	if s.ConcurrentDownloads < 1 {
		s.ConcurrentDownloads = 3
	}
	if s.ProbeTimeoutSec < 1 {
		s.ProbeTimeoutSec = 10
	}
	if s.DownloadTimeoutSec < 1 {
		s.DownloadTimeoutSec = 180
	}
	if s.PageTimeoutSec < 1 {
		s.PageTimeoutSec = 30
	}
	if s.PageDelayMS < 1 {
		s.PageDelayMS = 500
	}

	v := &c.Vocabulary
	if len(v.FolderEndpoints) == 0 {
		v.FolderEndpoints = []string{"listContent.jsp", "listContentEditable.jsp"}
	}
	if len(v.FilePathMarkers) == 0 {
		v.FilePathMarkers = []string{"/bbcswebdav/"}
	}
	if len(v.DownloadMarkers) == 0 {
		v.DownloadMarkers = []string{"download", "attachFile", "downloadFile"}
	}
	if v.NextPageLabel == "" {
		v.NextPageLabel = "下一页"
	}
	if len(v.AnnouncementKeywords) == 0 {
		v.AnnouncementKeywords = []string{"公告", "通知", "Announcements"}
	}
	if v.DatePattern == "" {
		v.DatePattern = `(\d{4})年(\d{1,2})月(\d{1,2})日`
	}
}

func defaultDir(underHome, fallback string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return fallback
	}

	return filepath.Join(home, underHome)
}

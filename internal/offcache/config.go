package offcache

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port       int    `yaml:"port"`
		AdminPort  int    `yaml:"adminPort"`
		Origin     string `yaml:"origin"`
		PublicHost string `yaml:"publicHost"`
	} `yaml:"server"`

	Cache struct {
		Namespace   string  `yaml:"namespace"`
		Version     string  `yaml:"version"`
		DataDir     string  `yaml:"dataDir"`
		VideoMax    string  `yaml:"videoMax"`
		EvictTarget float64 `yaml:"evictTarget"`
		APITTL      string  `yaml:"apiTTL"`
	} `yaml:"cache"`

	Routes struct {
		NetworkFirst []string          `yaml:"networkFirst"`
		CacheFirst   []CacheFirstRoute `yaml:"cacheFirst"`
		VideoPaths   []string          `yaml:"videoPaths"`
		VideoExts    []string          `yaml:"videoExts"`
		Skip         []string          `yaml:"skip"`
	} `yaml:"routes"`

	Install struct {
		CriticalAssets []string `yaml:"criticalAssets"`
	} `yaml:"install"`

	Warmup struct {
		Every string `yaml:"every"`
	} `yaml:"warmup"`

	Logging struct {
		LogStatsEvery string `yaml:"logStatsEvery"`
	} `yaml:"logging"`

	// compiled
	videoMaxBytes int64
	apiTTL        time.Duration
	warmupEvery   time.Duration
	statsEvery    time.Duration
}

// CacheFirstRoute maps a path marker to the bucket backing that route.
type CacheFirstRoute struct {
	Match  string `yaml:"match"`
	Bucket string `yaml:"bucket"`
}

func LoadConfig(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, err
	}
	if cfg.Server.Origin == "" {
		return Config{}, fmt.Errorf("server.origin is required")
	}
	if err := cfg.finalize(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// finalize fills defaults and compiles string fields. The defaults mirror
// the lounge-menu deployment this edge was built for.
func (cfg *Config) finalize() error {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	cfg.Server.Origin = strings.TrimRight(cfg.Server.Origin, "/")

	if cfg.Cache.Namespace == "" {
		cfg.Cache.Namespace = "safira-lounge"
	}
	if cfg.Cache.Version == "" {
		cfg.Cache.Version = "v1.0.1"
	}
	if cfg.Cache.DataDir == "" {
		cfg.Cache.DataDir = "./data/cache"
	}
	if cfg.Cache.VideoMax == "" {
		cfg.Cache.VideoMax = "50mb"
	}
	if cfg.Cache.EvictTarget == 0 {
		cfg.Cache.EvictTarget = 0.8
	}
	if cfg.Cache.EvictTarget < 0 || cfg.Cache.EvictTarget > 1 {
		return fmt.Errorf("cache.evictTarget must be in (0, 1], got %v", cfg.Cache.EvictTarget)
	}
	if cfg.Cache.APITTL == "" {
		cfg.Cache.APITTL = "5m"
	}

	if len(cfg.Routes.NetworkFirst) == 0 {
		cfg.Routes.NetworkFirst = []string{"/api/", "/safira-api-fixed.php"}
	}
	if len(cfg.Routes.CacheFirst) == 0 {
		cfg.Routes.CacheFirst = []CacheFirstRoute{
			{Match: "/static/", Bucket: bucketStatic},
			{Match: "/images/", Bucket: bucketImages},
		}
	}
	for i, cf := range cfg.Routes.CacheFirst {
		if !isLogicalBucket(cf.Bucket) {
			return fmt.Errorf("routes.cacheFirst[%d].bucket: unknown bucket %q", i, cf.Bucket)
		}
	}
	if len(cfg.Routes.VideoPaths) == 0 {
		cfg.Routes.VideoPaths = []string{"/videos/"}
	}
	if len(cfg.Routes.VideoExts) == 0 {
		cfg.Routes.VideoExts = []string{".mp4", ".mov"}
	}
	if len(cfg.Routes.Skip) == 0 {
		cfg.Routes.Skip = []string{"fonts.googleapis.com", "fonts.gstatic.com", "google", "gstatic"}
	}

	if len(cfg.Install.CriticalAssets) == 0 {
		cfg.Install.CriticalAssets = []string{
			"/",
			"/index.html",
			"/manifest.json",
			"/images/safira_logo_120w.webp",
			"/images/safira_logo_220w.webp",
			"/images/safira_logo_280w.webp",
			"/videos/safira_intro.mp4",
		}
	}

	var err error
	cfg.videoMaxBytes, err = parseBytes(cfg.Cache.VideoMax)
	if err != nil {
		return fmt.Errorf("cache.videoMax: %w", err)
	}
	cfg.apiTTL, err = time.ParseDuration(cfg.Cache.APITTL)
	if err != nil {
		return fmt.Errorf("cache.apiTTL: %w", err)
	}
	if cfg.Warmup.Every != "" {
		cfg.warmupEvery, err = time.ParseDuration(cfg.Warmup.Every)
		if err != nil {
			return fmt.Errorf("warmup.every: %w", err)
		}
	}
	if cfg.Logging.LogStatsEvery != "" {
		cfg.statsEvery, err = time.ParseDuration(cfg.Logging.LogStatsEvery)
		if err != nil {
			return fmt.Errorf("logging.logStatsEvery: %w", err)
		}
	}
	return nil
}

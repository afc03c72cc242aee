package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v2"
)

const (
	defaultSearchURL  = "https://www.ss.lv/lv/real-estate/flats/ogre-and-reg/ogre/sell/"
	defaultSiteOrigin = "https://ss.lv"
	defaultUserAgent  = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 " +
		"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	SearchURL      string
	SearchPages    int
	SearchPageURLs []string
	SiteOrigin     string
	ListingMarker  string
	MaxListings    int

	FetchMode    string
	FetchTimeout time.Duration
	UserAgent    string
	ChromeBin    string

	MaxConcurrency int
	RequestDelay   time.Duration
	MaxRetries     int
	RetryBaseDelay time.Duration

	DatasetPrefix string
	Encoding      string
	OutputDir     string
	RawCSVPath    string
	CityID        string
	DataType      string

	Sink     string
	S3Bucket string
	S3Region string

	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string
}

// fileConfig is the optional YAML overlay pointed to by SCRAPER_CONFIG.
type fileConfig struct {
	Scraping struct {
		SearchURLs  []string `yaml:"search_urls"`
		SearchPages int      `yaml:"search_pages"`
		MaxListings int      `yaml:"max_listings"`
		UserAgent   string   `yaml:"user_agent"`
		RateLimit   struct {
			Delay       string `yaml:"delay"`
			Concurrency int    `yaml:"concurrency"`
		} `yaml:"rate_limit"`
		RetryPolicy struct {
			MaxRetries int    `yaml:"max_retries"`
			BaseDelay  string `yaml:"base_delay"`
		} `yaml:"retry_policy"`
	} `yaml:"scraping"`
	Output struct {
		DatasetPrefix string `yaml:"dataset_prefix"`
		Encoding      string `yaml:"encoding"`
		Dir           string `yaml:"dir"`
	} `yaml:"output"`
}

// Load reads the .env file and returns a populated Config struct. When
// SCRAPER_CONFIG names a YAML file its values override the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("[config] No .env file found, falling back to system env vars")
	}

	cfg := &Config{
		SearchURL:      getEnv("SEARCH_URL", defaultSearchURL),
		SearchPages:    getEnvInt("SEARCH_PAGES", 3),
		SearchPageURLs: getEnvList("SEARCH_PAGE_URLS"),
		SiteOrigin:     getEnv("SITE_ORIGIN", defaultSiteOrigin),
		ListingMarker:  getEnv("LISTING_MARKER", "msg"),
		MaxListings:    getEnvInt("MAX_LISTINGS", 0),

		FetchMode:    strings.ToLower(getEnv("FETCH_MODE", "http")),
		FetchTimeout: getEnvDuration("FETCH_TIMEOUT", 20*time.Second),
		UserAgent:    getEnv("USER_AGENT", defaultUserAgent),
		ChromeBin:    getEnv("CHROME_BIN", ""),

		MaxConcurrency: getEnvInt("MAX_CONCURRENCY", 1),
		RequestDelay:   getEnvDuration("REQUEST_DELAY", 2*time.Second),
		MaxRetries:     getEnvInt("MAX_RETRIES", 3),
		RetryBaseDelay: getEnvDuration("RETRY_BASE_DELAY", 2*time.Second),

		DatasetPrefix: getEnv("DATASET_PREFIX", "city_id_5001_apt_sale_data"),
		Encoding:      strings.ToLower(getEnv("OUTPUT_ENCODING", "records")),
		OutputDir:     getEnv("OUTPUT_DIR", "./output"),
		RawCSVPath:    getEnv("RAW_CSV_PATH", ""),
		CityID:        getEnv("CITY_ID", "5001"),
		DataType:      getEnv("DATA_TYPE", "apts_for_sale"),

		Sink:     strings.ToLower(getEnv("SINK", "none")),
		S3Bucket: getEnv("S3_BUCKET", ""),
		S3Region: getEnv("S3_REGION", ""),

		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "scraper"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "scraper123"),
		PostgresDB:       getEnv("POSTGRES_DB", "scrape_artifacts"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),
	}

	if path := os.Getenv("SCRAPER_CONFIG"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	return c.applyYAML(raw)
}

func (c *Config) applyYAML(raw []byte) error {
	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return fmt.Errorf("config: parse yaml: %w", err)
	}

	s := fc.Scraping
	if len(s.SearchURLs) > 0 {
		c.SearchPageURLs = s.SearchURLs
	}
	if s.SearchPages > 0 {
		c.SearchPages = s.SearchPages
	}
	if s.MaxListings > 0 {
		c.MaxListings = s.MaxListings
	}
	if s.UserAgent != "" {
		c.UserAgent = s.UserAgent
	}
	if s.RateLimit.Delay != "" {
		d, err := time.ParseDuration(s.RateLimit.Delay)
		if err != nil {
			return fmt.Errorf("config: rate_limit.delay: %w", err)
		}
		c.RequestDelay = d
	}
	if s.RateLimit.Concurrency > 0 {
		c.MaxConcurrency = s.RateLimit.Concurrency
	}
	if s.RetryPolicy.MaxRetries > 0 {
		c.MaxRetries = s.RetryPolicy.MaxRetries
	}
	if s.RetryPolicy.BaseDelay != "" {
		d, err := time.ParseDuration(s.RetryPolicy.BaseDelay)
		if err != nil {
			return fmt.Errorf("config: retry_policy.base_delay: %w", err)
		}
		c.RetryBaseDelay = d
	}

	if fc.Output.DatasetPrefix != "" {
		c.DatasetPrefix = fc.Output.DatasetPrefix
	}
	if fc.Output.Encoding != "" {
		c.Encoding = strings.ToLower(fc.Output.Encoding)
	}
	if fc.Output.Dir != "" {
		c.OutputDir = fc.Output.Dir
	}
	return nil
}

// Validate rejects combinations the run cannot work with.
func (c *Config) Validate() error {
	switch c.FetchMode {
	case "http", "browser":
	default:
		return fmt.Errorf("config: FETCH_MODE must be http or browser, got %q", c.FetchMode)
	}
	switch c.Encoding {
	case "records", "legacy":
	default:
		return fmt.Errorf("config: OUTPUT_ENCODING must be records or legacy, got %q", c.Encoding)
	}
	switch c.Sink {
	case "none", "postgres":
	case "s3":
		if c.S3Bucket == "" {
			return fmt.Errorf("config: SINK=s3 requires S3_BUCKET")
		}
	default:
		return fmt.Errorf("config: SINK must be none, s3 or postgres, got %q", c.Sink)
	}
	if c.RequestDelay < 0 {
		return fmt.Errorf("config: REQUEST_DELAY must not be negative")
	}
	if len(c.SearchPageURLs) == 0 && c.SearchPages < 1 {
		return fmt.Errorf("config: SEARCH_PAGES must be at least 1")
	}
	return nil
}

// SearchPageList returns the search-results pages to harvest. The site serves
// page 1 for any page number past the last one, so the count is fixed
// rather than discovered.
func (c *Config) SearchPageList() []string {
	if len(c.SearchPageURLs) > 0 {
		return append([]string(nil), c.SearchPageURLs...)
	}
	base := c.SearchURL
	if !strings.HasSuffix(base, "/") {
		base += "/"
	}
	pages := []string{base}
	for n := 2; n <= c.SearchPages; n++ {
		pages = append(pages, fmt.Sprintf("%spage%d.html", base, n))
	}
	return pages
}

// DSN returns the PostgreSQL connection string.
func (c *Config) DSN() string {
	return "host=" + c.PostgresHost +
		" port=" + c.PostgresPort +
		" user=" + c.PostgresUser +
		" password=" + c.PostgresPassword +
		" dbname=" + c.PostgresDB +
		" sslmode=" + c.PostgresSSLMode
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		n, err := strconv.Atoi(val)
		if err == nil {
			return n
		}
	}
	return fallback
}

// getEnvDuration accepts Go durations ("1500ms") or plain seconds ("2").
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	if d, err := time.ParseDuration(val); err == nil {
		return d
	}
	if n, err := strconv.ParseFloat(val, 64); err == nil {
		return time.Duration(n * float64(time.Second))
	}
	return fallback
}

func getEnvList(key string) []string {
	val := os.Getenv(key)
	if val == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

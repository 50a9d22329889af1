package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	sharedcfg "github.com/couchcryptid/storm-data-shared/config"

	"github.com/nascimentoandre/download-surftomo-data/internal/domain"
)

// Config holds the process-level settings, populated from environment variables.
type Config struct {
	LogLevel        string
	LogFormat       string
	ShutdownTimeout time.Duration

	// FDSN client behaviour, applied to every server.
	FDSNTimeout          time.Duration
	FDSNRateLimit        float64
	FDSNBreakerThreshold uint32
	MetadataCacheSize    int

	MetricsAddr     string
	MetricsTextfile string

	// Event-ready notifications are disabled when KafkaBrokers is empty.
	KafkaBrokers []string
	KafkaTopic   string
}

// NotificationsEnabled reports whether processed events are announced on Kafka.
func (c *Config) NotificationsEnabled() bool {
	return len(c.KafkaBrokers) > 0
}

// Load reads configuration from environment variables, applying defaults where unset.
func Load() (*Config, error) {
	shutdownTimeout, err := sharedcfg.ParseShutdownTimeout()
	if err != nil {
		return nil, err
	}

	fdsnTimeout, err := time.ParseDuration(sharedcfg.EnvOrDefault("FDSN_TIMEOUT", "2m"))
	if err != nil || fdsnTimeout <= 0 {
		return nil, errors.New("invalid FDSN_TIMEOUT")
	}

	rateLimit, err := strconv.ParseFloat(sharedcfg.EnvOrDefault("FDSN_RATE_LIMIT", "5"), 64)
	if err != nil || rateLimit < 0 {
		return nil, errors.New("invalid FDSN_RATE_LIMIT")
	}

	threshold, err := strconv.ParseUint(sharedcfg.EnvOrDefault("FDSN_BREAKER_THRESHOLD", "20"), 10, 32)
	if err != nil || threshold == 0 {
		return nil, errors.New("invalid FDSN_BREAKER_THRESHOLD")
	}

	cfg := &Config{
		LogLevel:             sharedcfg.EnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:            sharedcfg.EnvOrDefault("LOG_FORMAT", "text"),
		ShutdownTimeout:      shutdownTimeout,
		FDSNTimeout:          fdsnTimeout,
		FDSNRateLimit:        rateLimit,
		FDSNBreakerThreshold: uint32(threshold),
		MetadataCacheSize:    parseCacheSize(),
		MetricsAddr:          os.Getenv("METRICS_ADDR"),
		MetricsTextfile:      os.Getenv("METRICS_TEXTFILE"),
		KafkaBrokers:         sharedcfg.ParseBrokers(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:           sharedcfg.EnvOrDefault("KAFKA_TOPIC", "surftomo-events-ready"),
	}

	return cfg, nil
}

func parseCacheSize() int {
	if s := os.Getenv("METADATA_CACHE_SIZE"); s != "" {
		if n, err := strconv.Atoi(s); err == nil && n > 0 {
			return n
		}
	}
	return 2000
}

// RunOptions are the command-line parameters of one run, as typed by the user.
type RunOptions struct {
	Folder      string
	T0          string
	T1          string
	Preset      int
	Offset      int
	EvArea      string
	StaArea     string
	MinMag      float64
	MinEpi      float64
	MaxDepth    float64
	PreFilt     string
	Auth        bool
	HorComp     bool
	FDSNServers string
	Credentials string
	Report      string
}

// DefaultRunOptions returns the flag defaults.
func DefaultRunOptions() RunOptions {
	return RunOptions{
		Preset:      200,
		Offset:      4000,
		MinMag:      5.5,
		MinEpi:      domain.DefaultMinDistance,
		MaxDepth:    100,
		PreFilt:     domain.DefaultPreFilter().String(),
		FDSNServers: "IRIS,USP",
	}
}

// Run is a validated, ready-to-execute set of run parameters.
type Run struct {
	Layout          domain.Layout
	Servers         []string
	Requests        []domain.Request
	PreFilter       domain.PreFilter
	MinDistance     float64
	Auth            bool
	CredentialsPath string
	ReportPath      string
}

// Validate parses every option and builds the per-server requests. It performs
// no I/O, so a bad invocation fails before any network access.
func (o RunOptions) Validate() (*Run, error) {
	if strings.TrimSpace(o.Folder) == "" {
		return nil, fmt.Errorf("%w: --folder is required", domain.ErrInvalidRequest)
	}
	if o.MinEpi < 0 || o.MinEpi > 180 {
		return nil, fmt.Errorf("%w: --min_epi must be within [0, 180], got %g", domain.ErrInvalidRequest, o.MinEpi)
	}

	servers := ParseServers(o.FDSNServers)
	if len(servers) == 0 {
		return nil, fmt.Errorf("%w: --fdsn_servers lists no server", domain.ErrInvalidRequest)
	}

	evArea, err := domain.ParseArea(o.EvArea, domain.WorldArea())
	if err != nil {
		return nil, fmt.Errorf("--ev_area: %w", err)
	}
	staArea, err := domain.ParseArea(o.StaArea, domain.BrazilArea())
	if err != nil {
		return nil, fmt.Errorf("--sta_area: %w", err)
	}
	pf, err := domain.ParsePreFilter(o.PreFilt)
	if err != nil {
		return nil, fmt.Errorf("--pre_filt: %w", err)
	}

	requests, err := domain.BuildRequests(domain.RequestParams{
		Start:                o.T0,
		End:                  o.T1,
		Preset:               o.Preset,
		Offset:               o.Offset,
		HorizontalComponents: o.HorComp,
		EventArea:            evArea,
		StationArea:          staArea,
		MinMagnitude:         o.MinMag,
		MaxDepth:             o.MaxDepth,
	}, servers)
	if err != nil {
		return nil, err
	}

	layout := domain.NewLayout(o.Folder)
	credentials := o.Credentials
	if credentials == "" {
		credentials = filepath.Join(filepath.Dir(layout.Root), "credentials")
	}
	report := o.Report
	if report == "" {
		report = filepath.Join(layout.Root, "report.json")
	}

	return &Run{
		Layout:          layout,
		Servers:         servers,
		Requests:        requests,
		PreFilter:       pf,
		MinDistance:     o.MinEpi,
		Auth:            o.Auth,
		CredentialsPath: credentials,
		ReportPath:      report,
	}, nil
}

// ParseServers splits a comma-separated server list, dropping blanks and
// repeated names while keeping the first-seen order.
func ParseServers(s string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, part := range strings.Split(s, ",") {
		name := strings.TrimSpace(part)
		key := strings.ToUpper(name)
		if name == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, name)
	}
	return out
}

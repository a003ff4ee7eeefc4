// Package config loads process configuration from a YAML file with
// environment-variable overrides for connection strings and endpoints.
// The loaded Config is passed by parameter; there is no package-level state.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"lending-lab/internal/domain"
	"lending-lab/internal/pricecache"
)

// Duration decodes YAML strings like "30m" or "168h".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := time.ParseDuration(value.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", value.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Decimal decodes YAML scalars into decimal.Decimal without passing
// through float64.
type Decimal struct {
	decimal.Decimal
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Decimal) UnmarshalYAML(value *yaml.Node) error {
	parsed, err := decimal.NewFromString(value.Value)
	if err != nil {
		return fmt.Errorf("invalid decimal %q: %w", value.Value, err)
	}
	d.Decimal = parsed
	return nil
}

// MarketEntry is one row of the markets registry.
type MarketEntry struct {
	ID              string  `yaml:"id"`
	Protocol        string  `yaml:"protocol"`
	CollateralAsset string  `yaml:"collateral_asset"`
	LoanAsset       string  `yaml:"loan_asset"`
	LLTV            Decimal `yaml:"lltv"`
}

// CacheConfig tunes the per-run price cache.
type CacheConfig struct {
	MaxEntries int      `yaml:"max_entries"`
	TTL        Duration `yaml:"ttl"`
	BucketSecs int64    `yaml:"bucket_secs"`
}

// AllocationDefaults seed allocation configs built from the registry.
type AllocationDefaults struct {
	Strategy            string  `yaml:"strategy"`
	MinWeight           Decimal `yaml:"min_weight"`
	MaxWeight           Decimal `yaml:"max_weight"`
	RebalanceInterval   int     `yaml:"rebalance_interval"`
	PeriodsPerYear      int     `yaml:"periods_per_year"`
	RiskFreeRate        Decimal `yaml:"risk_free_rate"`
	WaterfillEpsilonBps Decimal `yaml:"waterfill_epsilon_bps"`
	WaterfillMaxIters   int     `yaml:"waterfill_max_iters"`
}

// RebalancingDefaults seed debt configs built from the registry.
type RebalancingDefaults struct {
	CollateralAsset     string  `yaml:"collateral_asset"`
	LoanAsset           string  `yaml:"loan_asset"`
	IntervalHours       int     `yaml:"interval_hours"`
	RateThresholdBps    Decimal `yaml:"rate_threshold_bps"`
	MinHealthFactor     Decimal `yaml:"min_health_factor"`
	MarginCallThreshold Decimal `yaml:"margin_call_threshold"`
	MaxMarketShare      Decimal `yaml:"max_market_share"`
	StepHours           Decimal `yaml:"step_hours"`
	GasCostUSD          Decimal `yaml:"gas_cost_usd"`
	SlippageBps         Decimal `yaml:"slippage_bps"`
}

// Config is the full process configuration.
type Config struct {
	FeedEndpoint  string `yaml:"feed_endpoint"`
	PostgresDSN   string `yaml:"postgres_dsn"`
	ClickhouseDSN string `yaml:"clickhouse_dsn"`
	UseMemory     bool   `yaml:"use_memory"`

	MetricsAddr string `yaml:"metrics_addr"`
	OutputDir   string `yaml:"output_dir"`

	SweepInterval    Duration `yaml:"sweep_interval"`
	ReportInterval   Duration `yaml:"report_interval"`
	SweepParallelism int      `yaml:"sweep_parallelism"`

	Markets []MarketEntry `yaml:"markets"`

	Cache       CacheConfig         `yaml:"cache"`
	Allocation  AllocationDefaults  `yaml:"allocation"`
	Rebalancing RebalancingDefaults `yaml:"rebalancing"`
}

// Default returns the configuration used when no file is given. The numeric
// defaults mirror the production monitor: weekly rebalance cadence, 10 bps
// rate threshold, 0.05/0.80 allocation bounds, 1.2 minimum health factor,
// 1.05 margin-call threshold.
func Default() *Config {
	return &Config{
		MetricsAddr:      ":9090",
		OutputDir:        "output",
		SweepInterval:    Duration(1 * time.Hour),
		ReportInterval:   Duration(6 * time.Hour),
		SweepParallelism: 0, // GOMAXPROCS
		Cache: CacheConfig{
			MaxEntries: 1024,
			TTL:        Duration(24 * time.Hour),
			BucketSecs: 3600,
		},
		Allocation: AllocationDefaults{
			Strategy:            domain.StrategyEqual,
			MinWeight:           Decimal{decimal.RequireFromString("0.05")},
			MaxWeight:           Decimal{decimal.RequireFromString("0.80")},
			RebalanceInterval:   1,
			PeriodsPerYear:      8760, // hourly data
			WaterfillEpsilonBps: Decimal{decimal.NewFromInt(1)},
			WaterfillMaxIters:   200,
		},
		Rebalancing: RebalancingDefaults{
			IntervalHours:       168,
			RateThresholdBps:    Decimal{decimal.NewFromInt(10)},
			MinHealthFactor:     Decimal{decimal.RequireFromString("1.2")},
			MarginCallThreshold: Decimal{decimal.RequireFromString("1.05")},
			MaxMarketShare:      Decimal{decimal.RequireFromString("0.80")},
			StepHours:           Decimal{decimal.NewFromInt(1)},
		},
	}
}

// Load reads a YAML config file over the defaults and applies environment
// overrides. An empty path returns the defaults with overrides applied.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides connection strings and endpoints from the environment.
func (c *Config) applyEnv() {
	if v := os.Getenv("FEED_ENDPOINT"); v != "" {
		c.FeedEndpoint = v
	}
	if v := os.Getenv("POSTGRES_DSN"); v != "" {
		c.PostgresDSN = v
	}
	if v := os.Getenv("CLICKHOUSE_DSN"); v != "" {
		c.ClickhouseDSN = v
	}
	if v := os.Getenv("METRICS_ADDR"); v != "" {
		c.MetricsAddr = v
	}
}

// Validate checks structural constraints that would otherwise surface deep
// inside a run.
func (c *Config) Validate() error {
	seen := make(map[string]bool, len(c.Markets))
	for i, m := range c.Markets {
		if m.ID == "" {
			return fmt.Errorf("markets[%d]: empty id", i)
		}
		if seen[m.ID] {
			return fmt.Errorf("markets[%d]: duplicate id %s", i, m.ID)
		}
		seen[m.ID] = true
		switch m.Protocol {
		case domain.ProtocolMorpho, domain.ProtocolAave:
		default:
			return fmt.Errorf("markets[%d]: unknown protocol %q", i, m.Protocol)
		}
	}
	if c.Cache.MaxEntries < 0 {
		return fmt.Errorf("cache.max_entries %d < 0", c.Cache.MaxEntries)
	}
	if c.SweepParallelism < 0 {
		return fmt.Errorf("sweep_parallelism %d < 0", c.SweepParallelism)
	}
	return nil
}

// MarketList converts the registry entries to domain markets.
func (c *Config) MarketList() []domain.Market {
	markets := make([]domain.Market, 0, len(c.Markets))
	for _, m := range c.Markets {
		markets = append(markets, domain.Market{
			ID:              m.ID,
			Protocol:        m.Protocol,
			CollateralAsset: m.CollateralAsset,
			LoanAsset:       m.LoanAsset,
			LLTV:            m.LLTV.Decimal,
		})
	}
	return markets
}

// CacheOptions converts the cache section to pricecache options.
func (c *Config) CacheOptions() pricecache.Options {
	return pricecache.Options{
		MaxEntries: c.Cache.MaxEntries,
		TTL:        c.Cache.TTL.Std(),
		BucketSecs: c.Cache.BucketSecs,
	}
}

// AllocationConfig builds an allocation config over the given market ids
// using the configured defaults. Empty ids means the whole registry.
func (c *Config) AllocationConfig(marketIDs []string) domain.AllocationConfig {
	if len(marketIDs) == 0 {
		for _, m := range c.Markets {
			marketIDs = append(marketIDs, m.ID)
		}
	}
	limits := make([]domain.MarketLimit, 0, len(marketIDs))
	for _, id := range marketIDs {
		limits = append(limits, domain.MarketLimit{
			MarketID:  id,
			MinWeight: c.Allocation.MinWeight.Decimal,
			MaxWeight: c.Allocation.MaxWeight.Decimal,
		})
	}
	return domain.AllocationConfig{
		Strategy:            c.Allocation.Strategy,
		Markets:             limits,
		RebalanceInterval:   c.Allocation.RebalanceInterval,
		PeriodsPerYear:      c.Allocation.PeriodsPerYear,
		RiskFreeRate:        c.Allocation.RiskFreeRate.Decimal,
		WaterfillEpsilonBps: c.Allocation.WaterfillEpsilonBps.Decimal,
		WaterfillMaxIters:   c.Allocation.WaterfillMaxIters,
	}
}

// RebalancingConfig builds a debt config over the given market ids using
// the configured defaults. Empty ids means the whole registry. The interval
// in hours converts to steps through the configured step size.
func (c *Config) RebalancingConfig(marketIDs []string) domain.RebalancingConfig {
	if len(marketIDs) == 0 {
		for _, m := range c.Markets {
			marketIDs = append(marketIDs, m.ID)
		}
	}

	intervalSteps := 0
	if c.Rebalancing.IntervalHours > 0 && c.Rebalancing.StepHours.Decimal.IsPositive() {
		steps := decimal.NewFromInt(int64(c.Rebalancing.IntervalHours)).
			Div(c.Rebalancing.StepHours.Decimal)
		intervalSteps = int(steps.IntPart())
		if intervalSteps < 1 {
			intervalSteps = 1
		}
	}

	return domain.RebalancingConfig{
		CollateralAsset:     c.Rebalancing.CollateralAsset,
		LoanAsset:           c.Rebalancing.LoanAsset,
		MarketIDs:           marketIDs,
		IntervalSteps:       intervalSteps,
		RateThresholdBps:    c.Rebalancing.RateThresholdBps.Decimal,
		MinHealthFactor:     c.Rebalancing.MinHealthFactor.Decimal,
		MarginCallThreshold: c.Rebalancing.MarginCallThreshold.Decimal,
		MaxMarketShare:      c.Rebalancing.MaxMarketShare.Decimal,
		StepHours:           c.Rebalancing.StepHours.Decimal,
		GasCostUSD:          c.Rebalancing.GasCostUSD.Decimal,
		SlippageBps:         c.Rebalancing.SlippageBps.Decimal,
	}
}

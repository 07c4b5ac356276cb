// Package config holds the static configuration of the freshness
// subsystem: the entity-group vocabulary, the query-identifier fan-out,
// the critical sets, and the runtime knobs for server and client. It is
// loaded once at startup and validated before anything runs.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/svelumani/MusicianManager-sub005/pkg/keymap"
)

// Server configures the freshness daemon.
type Server struct {
	// Addr is the listen address, host:port.
	Addr string `mapstructure:"addr"`
}

// Client configures a session engine.
type Client struct {
	// ServerURL is the base http(s) URL of the freshness daemon.
	ServerURL string `mapstructure:"server_url"`

	// PollInterval is the reconciler's timer period, covering pushes
	// lost on the channel.
	PollInterval time.Duration `mapstructure:"poll_interval"`

	// CachePath is where the persisted version snapshot lives.
	CachePath string `mapstructure:"cache_path"`
}

// Rule is one server-to-client key mapping, see keymap.Rule.
type Rule struct {
	Server string `mapstructure:"server"`
	Client string `mapstructure:"client"`
}

// Entities describes the entity-group vocabulary and its consequences.
type Entities struct {
	// Rules lists the keys whose server and client names drifted apart.
	// Keys without a rule map to themselves.
	Rules []Rule `mapstructure:"rules"`

	// QueryIDs maps a client-side entity-group key to the cached-query
	// identifiers a change to it invalidates.
	QueryIDs map[string][]string `mapstructure:"query_ids"`

	// CriticalKeys are client-side keys whose changes force a full
	// reload on critical views.
	CriticalKeys []string `mapstructure:"critical_keys"`

	// CriticalViewPrefixes are the view path prefixes treated as
	// critical-sensitive.
	CriticalViewPrefixes []string `mapstructure:"critical_view_prefixes"`

	// LegacyPathRemap maps retired view paths to their canonical
	// replacements, so a reload from a stale URL lands somewhere real.
	LegacyPathRemap map[string]string `mapstructure:"legacy_path_remap"`
}

// Config is the root configuration.
type Config struct {
	Server   Server   `mapstructure:"server"`
	Client   Client   `mapstructure:"client"`
	Entities Entities `mapstructure:"entities"`
}

// Default returns the built-in configuration: the authoritative entity
// vocabulary and critical sets of the booking admin tool. A config file
// overrides individual fields.
func Default() Config {
	return Config{
		Server: Server{
			Addr: ":8090",
		},
		Client: Client{
			ServerURL:    "http://localhost:8090",
			PollInterval: 30 * time.Second,
			CachePath:    ".freshness/versions.json",
		},
		Entities: Entities{
			Rules: []Rule{
				{Server: "planner", Client: "plannerAssignments"},
				{Server: "monthly-contracts", Client: "monthlyContracts"},
			},
			QueryIDs: map[string][]string{
				"musicians":          {"/api/musicians"},
				"venues":             {"/api/venues"},
				"events":             {"/api/events", "/api/events/upcoming"},
				"bookings":           {"/api/bookings"},
				"payments":           {"/api/payments"},
				"availability":       {"/api/availability"},
				"contracts":          {"/api/contracts"},
				"invitations":        {"/api/invitations"},
				"settings":           {"/api/settings"},
				"plannerAssignments": {"/api/planner-assignments", "/api/planner-slots"},
				"monthlyContracts":   {"/api/monthly-contracts"},
			},
			CriticalKeys:         []string{"plannerAssignments", "monthlyContracts"},
			CriticalViewPrefixes: []string{"/events/planner", "/contracts/monthly"},
			LegacyPathRemap: map[string]string{
				"/planner": "/events/planner",
				"/monthly": "/contracts/monthly",
			},
		},
	}
}

// Load reads the YAML file at path over the defaults. An empty path
// returns the defaults untouched.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return cfg, fmt.Errorf("config: error reading %s: %w", path, err)
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("config: error unmarshalling %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks the configuration for the mistakes that would otherwise
// surface as silent staleness at runtime.
func (c Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("config: server.addr must not be empty")
	}
	if c.Client.PollInterval <= 0 {
		return fmt.Errorf("config: client.poll_interval must be positive, got %v", c.Client.PollInterval)
	}
	if c.Client.CachePath == "" {
		return fmt.Errorf("config: client.cache_path must not be empty")
	}

	// Building the mapper validates the rule table is bijective.
	mapper, err := c.Mapper()
	if err != nil {
		return err
	}

	// A critical key with no query fan-out and no rule is almost
	// certainly a typo: it would never match anything.
	for _, key := range c.Entities.CriticalKeys {
		_, mapped := c.Entities.QueryIDs[key]
		if !mapped && mapper.Denormalize(key) == key {
			return fmt.Errorf("config: critical key %q is neither mapped nor ruled", key)
		}
	}

	return nil
}

// Mapper builds the keymap from the entity rules.
func (c Config) Mapper() (*keymap.Mapper, error) {
	rules := make([]keymap.Rule, 0, len(c.Entities.Rules))
	for _, r := range c.Entities.Rules {
		rules = append(rules, keymap.Rule{Server: r.Server, Client: r.Client})
	}
	return keymap.New(rules, c.Entities.QueryIDs)
}

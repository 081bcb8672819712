package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"dossierline/internal/domain"
)

// Config models dossierline.yml.
type Config struct {
	Office struct {
		Name string `yaml:"name"`
	} `yaml:"office"`
	Storage struct {
		Driver string `yaml:"driver"`
		DSN    string `yaml:"dsn"`
	} `yaml:"storage"`
	Time struct {
		Categories   map[string]CategoryPolicy `yaml:"categories"`
		AverageWeeks int                       `yaml:"average_weeks"`
	} `yaml:"time"`
	Quote struct {
		VATRate float64 `yaml:"vat_rate"`
	} `yaml:"quote"`
	Cache struct {
		RedisAddr string `yaml:"redis_addr"`
		TTL       string `yaml:"ttl"`
	} `yaml:"cache"`
	Notify struct {
		NATSURL  string          `yaml:"nats_url"`
		Subject  string          `yaml:"subject"`
		Webhooks []WebhookConfig `yaml:"webhooks"`
	} `yaml:"notify"`
	RBAC struct {
		Roles map[string]RBACRole `yaml:"roles"`
	} `yaml:"rbac"`
}

type CategoryPolicy struct {
	Billable    bool   `yaml:"billable"`
	Description string `yaml:"description"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret"`
	Events         []string `yaml:"events"`
	Enabled        *bool    `yaml:"enabled"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
}

type RBACRole struct {
	Description string   `yaml:"description"`
	Permissions []string `yaml:"permissions"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with dl config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "", "sqlite", "postgres":
	default:
		return fmt.Errorf("config.storage.driver must be sqlite or postgres, got %q", c.Storage.Driver)
	}
	if c.Storage.Driver == "postgres" && strings.TrimSpace(c.Storage.DSN) == "" {
		return fmt.Errorf("config.storage.dsn is required for postgres")
	}
	if len(c.Time.Categories) == 0 {
		return fmt.Errorf("config.time.categories is required")
	}
	for name := range c.Time.Categories {
		if !domain.Category(name).IsValid() {
			return fmt.Errorf("config.time.categories has unknown category %s", name)
		}
	}
	if c.Time.AverageWeeks < 0 {
		return fmt.Errorf("config.time.average_weeks must be >= 0")
	}
	if c.Quote.VATRate < 0 || c.Quote.VATRate >= 1 {
		return fmt.Errorf("config.quote.vat_rate must be in [0,1)")
	}
	if c.Cache.TTL != "" {
		if _, err := time.ParseDuration(c.Cache.TTL); err != nil {
			return fmt.Errorf("config.cache.ttl: %w", err)
		}
	}
	for i, hook := range c.Notify.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("config.notify.webhooks[%d].url is required", i)
		}
	}
	if len(c.RBAC.Roles) > 0 {
		if _, ok := c.RBAC.Roles["admin"]; !ok {
			return fmt.Errorf("config.rbac.roles must include admin")
		}
		for roleID, role := range c.RBAC.Roles {
			if roleID == "" {
				return fmt.Errorf("config.rbac.roles contains empty role id")
			}
			for _, perm := range role.Permissions {
				if perm == "" {
					return fmt.Errorf("role %s has empty permission id", roleID)
				}
			}
		}
	}
	return nil
}

// BillableTable returns the category classification as domain values.
func (c *Config) BillableTable() map[domain.Category]bool {
	out := make(map[domain.Category]bool, len(c.Time.Categories))
	for name, policy := range c.Time.Categories {
		out[domain.Category(name)] = policy.Billable
	}
	return out
}

// CacheTTL is the lead cache staleness bound. Zero disables caching.
func (c *Config) CacheTTL() time.Duration {
	if c.Cache.TTL == "" {
		return 0
	}
	d, err := time.ParseDuration(c.Cache.TTL)
	if err != nil {
		return 0
	}
	return d
}

// VATRate falls back to the Dutch standard rate.
func (c *Config) VATRate() float64 {
	if c.Quote.VATRate == 0 {
		return 0.21
	}
	return c.Quote.VATRate
}

func (c *Config) AverageWeeks() int {
	if c.Time.AverageWeeks == 0 {
		return 4
	}
	return c.Time.AverageWeeks
}

func (c *Config) NotifySubject() string {
	if strings.TrimSpace(c.Notify.Subject) == "" {
		return "dossier.quote.ready"
	}
	return c.Notify.Subject
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "dossierline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault(officeName string) string {
	return fmt.Sprintf(defaultTemplate, officeName)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the default Config struct.
func Default(officeName string) *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(GenerateDefault(officeName))).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `office:
  name: %q

storage:
  driver: sqlite

time:
  average_weeks: 4
  categories:
    calculatie:
      billable: true
      description: "Rekenwerk op een dossier"
    overleg:
      billable: true
      description: "Overleg met klant of aannemer"
    site-bezoek:
      billable: true
      description: "Bezoek op locatie"
    overig:
      billable: true
      description: "Overig projectwerk"
    administratie:
      billable: false
      description: "Administratie"
    algemeen:
      billable: false
      description: "Algemene tijd"
    prive:
      billable: false
      description: "Prive"

quote:
  vat_rate: 0.21

cache:
  ttl: 30s

notify:
  subject: dossier.quote.ready

rbac:
  roles:
    admin:
      description: "Kantoorbeheer: goedkeuren, team toewijzen"
      permissions:
        - lead.create
        - lead.read
        - lead.update
        - lead.status.update
        - lead.phase.update
        - lead.assign
        - quote.submit
        - quote.approve
        - quote.reject
        - quote.send
        - quote.rollback
        - team.assign
        - team.aanzet.update
        - time.create
        - time.manage
        - time.read.team
        - user.manage
        - events.read
    engineer:
      description: "Constructeur: calculeert en verstuurt offertes"
      permissions:
        - lead.create
        - lead.read
        - lead.update
        - lead.status.update
        - lead.phase.update
        - lead.assign
        - quote.submit
        - quote.send
        - quote.rollback
        - team.aanzet.update
        - time.create
    projectleider:
      description: "Kan als projectleider worden ingedeeld"
      permissions: [lead.read, lead.phase.update, team.aanzet.update, time.create]
    rekenaar:
      description: "Kan als rekenaar worden ingedeeld"
      permissions: [lead.read, time.create]
    tekenaar:
      description: "Kan als tekenaar worden ingedeeld"
      permissions: [lead.read, time.create]
`

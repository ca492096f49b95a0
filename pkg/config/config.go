package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"listdb/pkg/common"
	"listdb/pkg/logger"

	"github.com/pelletier/go-toml"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Server  ServerConfig  `yaml:"server" toml:"server"`
	Storage StorageConfig `yaml:"storage" toml:"storage"`
	Schema  SchemaConfig  `yaml:"schema" toml:"schema"`
	Cache   CacheConfig   `yaml:"cache" toml:"cache"`
	Log     logger.Config `yaml:"log" toml:"log"`
}

type ServerConfig struct {
	Addr              string  `yaml:"addr" toml:"addr"`             // HTTP Listen Address (e.g. :8080)
	TCPAddr           string  `yaml:"tcp_addr" toml:"tcp_addr"`     // TCP Listen Address (e.g. :9090)
	RateLimit         float64 `yaml:"rate_limit" toml:"rate_limit"` // requests per second, 0 disables
	RateBurst         int     `yaml:"rate_burst" toml:"rate_burst"`
	CompressThreshold int     `yaml:"compress_threshold" toml:"compress_threshold"`
}

type StorageConfig struct {
	Driver string `yaml:"driver" toml:"driver"` // memory | sqlite | mysql
	DSN    string `yaml:"dsn" toml:"dsn"`
	Path   string `yaml:"path" toml:"path"` // sqlite file when dsn is empty
	Dir    string `yaml:"dir" toml:"dir"`   // memory driver: journal and checkpoint dir, empty is volatile
	Table  string `yaml:"table" toml:"table"`
	Create bool   `yaml:"create" toml:"create"`
}

type FieldConfig struct {
	Name       string `yaml:"name" toml:"name"`
	Alias      string `yaml:"alias" toml:"alias"`
	Kind       string `yaml:"kind" toml:"kind"`
	PrimaryKey bool   `yaml:"primary_key" toml:"primary_key"`
	Required   bool   `yaml:"required" toml:"required"`
	Length     int    `yaml:"length" toml:"length"`
	Decimals   int    `yaml:"decimals" toml:"decimals"`
}

type SchemaConfig struct {
	Fields []FieldConfig `yaml:"fields" toml:"fields"`
	// Order entries are "alias" or "alias desc".
	Order []string `yaml:"order" toml:"order"`
}

type CacheConfig struct {
	Size          int     `yaml:"size" toml:"size"`
	Factor        float64 `yaml:"factor" toml:"factor"`
	PageSize      int     `yaml:"page_size" toml:"page_size"`
	RefreshDelay  string  `yaml:"refresh_delay" toml:"refresh_delay"`
	VerifyAnchors bool    `yaml:"verify_anchors" toml:"verify_anchors"`
	// Scope is a SELECT statement whose WHERE clause becomes the global criteria.
	Scope string `yaml:"scope" toml:"scope"`
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:              ":8080",
			TCPAddr:           ":9090",
			RateBurst:         50,
			CompressThreshold: 4096,
		},
		Storage: StorageConfig{
			Driver: "sqlite",
			Path:   "list_data/list.db",
			Table:  "records",
			Create: true,
		},
		Schema: SchemaConfig{
			Fields: []FieldConfig{
				{Name: "id", Kind: "long", PrimaryKey: true},
				{Name: "name", Kind: "string", Length: 255},
				{Name: "score", Kind: "double"},
			},
			Order: []string{"score desc"},
		},
		Cache: CacheConfig{
			Size:     10000,
			Factor:   0.2,
			PageSize: 100,
		},
		Log: logger.Config{Level: "info", Format: "text"},
	}
}

// Load reads configPath, YAML or TOML by extension, over the defaults. An empty
// path searches the usual locations and falls back to the defaults.
func Load(configPath string) (*Config, error) {
	cfg := defaults()

	if configPath == "" {
		for _, p := range []string{"configs/listdb.yaml", "listdb.yaml", "configs/listdb.toml", "listdb.toml"} {
			if _, err := os.Stat(p); err == nil {
				configPath = p
				break
			}
		}
		if configPath == "" {
			applyDefaults(cfg)
			return cfg, nil // no file found: use defaults
		}
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return cfg, errors.Wrap(err, "read config")
	}
	if err := decode(configPath, data, cfg); err != nil {
		return cfg, err
	}
	applyDefaults(cfg)
	return cfg, nil
}

func decode(path string, data []byte, cfg *Config) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return errors.Wrapf(toml.Unmarshal(data, cfg), "parse %s", path)
	case ".yaml", ".yml", "":
		return errors.Wrapf(yaml.Unmarshal(data, cfg), "parse %s", path)
	}
	return errors.Errorf("unsupported config format %q", filepath.Ext(path))
}

func applyDefaults(cfg *Config) {
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "sqlite"
	}
	if cfg.Storage.Table == "" {
		cfg.Storage.Table = "records"
	}
	if cfg.Cache.Size <= 0 {
		cfg.Cache.Size = 10000
	}
	if cfg.Cache.Factor <= 0 || cfg.Cache.Factor > 1 {
		cfg.Cache.Factor = 0.2
	}
	if cfg.Cache.PageSize <= 0 {
		cfg.Cache.PageSize = 100
	}
	if cfg.Server.RateBurst <= 0 {
		cfg.Server.RateBurst = 50
	}
	if cfg.Server.CompressThreshold <= 0 {
		cfg.Server.CompressThreshold = 4096
	}
}

// RefreshInterval parses cache.refresh_delay; empty means disabled.
func (c CacheConfig) RefreshInterval() (time.Duration, error) {
	if c.RefreshDelay == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.RefreshDelay)
	return d, errors.Wrap(err, "cache.refresh_delay")
}

// FieldList builds the schema described by the config.
func (s SchemaConfig) FieldList() (common.FieldList, error) {
	if len(s.Fields) == 0 {
		return nil, errors.New("schema has no fields")
	}
	out := make(common.FieldList, 0, len(s.Fields))
	for _, fc := range s.Fields {
		kind, err := common.ParseKind(fc.Kind)
		if err != nil {
			return nil, errors.Wrapf(err, "field %s", fc.Name)
		}
		var opts []common.FieldOption
		if fc.Alias != "" {
			opts = append(opts, common.WithAlias(fc.Alias))
		}
		if fc.PrimaryKey {
			opts = append(opts, common.AsPrimaryKey())
		}
		if fc.Required {
			opts = append(opts, common.AsRequired())
		}
		if fc.Length > 0 {
			opts = append(opts, common.WithLength(fc.Length, fc.Decimals))
		}
		out = append(out, common.NewField(fc.Name, kind, opts...))
	}
	return out, nil
}

// OrderOf resolves the order entries against fields.
func (s SchemaConfig) OrderOf(fields common.FieldList) (common.Order, error) {
	var order common.Order
	for _, entry := range s.Order {
		parts := strings.Fields(entry)
		if len(parts) == 0 || len(parts) > 2 {
			return nil, errors.Errorf("bad order entry %q", entry)
		}
		f, err := fields.Lookup(parts[0])
		if err != nil {
			return nil, err
		}
		switch {
		case len(parts) == 1 || strings.EqualFold(parts[1], "asc"):
			order = append(order, common.Asc(f))
		case strings.EqualFold(parts[1], "desc"):
			order = append(order, common.Desc(f))
		default:
			return nil, errors.Errorf("bad direction in order entry %q", entry)
		}
	}
	return order, nil
}

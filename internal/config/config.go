package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/life-stream-dev/life-stream-go-stomp-broker/internal/utils"
)

const DefaultPath = "config.json"

var ErrConfigCreated = errors.New("the configuration file does not exist and has been created. Please try again after editing the configuration file")

// Duration is a time.Duration stored as a string such as "100ms" or "2d".
type Duration time.Duration

func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("duration must be a string: %w", err)
	}
	parsed, err := utils.ParseStringTime(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

type UserConfig struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type BrokerConfig struct {
	AcceptVersions []string     `json:"accept_versions"`
	QueueSize      int          `json:"queue_size"`
	EnqueueTimeout Duration     `json:"enqueue_timeout"`
	WriteTimeout   Duration     `json:"write_timeout"`
	ConnectTimeout Duration     `json:"connect_timeout"`
	IdleTimeout    Duration     `json:"idle_timeout"`
	MaxFrameSize   int          `json:"max_frame_size"`
	MaxConnections int          `json:"max_connections"`
	AutoRegister   bool         `json:"auto_register"`
	BcryptCost     int          `json:"bcrypt_cost"`
	Users          []UserConfig `json:"users"`
}

type RateLimitConfig struct {
	Enabled              bool     `json:"enabled"`
	ConnectionsPerSecond float64  `json:"connections_per_second"`
	Burst                int      `json:"burst"`
	CleanupInterval      Duration `json:"cleanup_interval"`
}

type DatabaseConfig struct {
	Enabled            bool     `json:"enabled"`
	Host               string   `json:"host"`
	Port               uint64   `json:"port"`
	Username           string   `json:"username"`
	Password           string   `json:"password"`
	Database           string   `json:"database"`
	UseTLS             bool     `json:"use_tls"`
	ConnectTimeout     Duration `json:"connect_timeout"`
	SocketTimeout      Duration `json:"socket_timeout"`
	ConnectIdleTimeout Duration `json:"connect_idle_timeout"`
	OperationTimeout   Duration `json:"operation_timeout"`
	Heartbeat          Duration `json:"heartbeat"`
	MinPoolSize        uint64   `json:"min_pool_size"`
	MaxPoolSize        uint64   `json:"max_pool_size"`
	CacheSize          int      `json:"cache_size"`
	CacheTTL           Duration `json:"cache_ttl"`
}

type Config struct {
	AppName     string          `json:"app_name"`
	AppPort     int             `json:"app_port"`
	BindAddress string          `json:"bind_address"`
	DebugMode   bool            `json:"debug_mode"`
	LogPath     string          `json:"log_path"`
	Broker      BrokerConfig    `json:"broker"`
	RateLimit   RateLimitConfig `json:"rate_limit"`
	Database    DatabaseConfig  `json:"database"`
}

// Default returns the configuration written to a freshly created config file.
func Default() Config {
	return Config{
		AppName: "life-stream-stomp-broker",
		AppPort: 7777,
		LogPath: "logs",
		Broker: BrokerConfig{
			AcceptVersions: []string{"1.2"},
			QueueSize:      256,
			EnqueueTimeout: Duration(100 * time.Millisecond),
			WriteTimeout:   Duration(10 * time.Second),
			ConnectTimeout: Duration(time.Minute),
			MaxFrameSize:   1 << 20,
			MaxConnections: 10000,
			AutoRegister:   true,
			BcryptCost:     10,
			Users:          []UserConfig{},
		},
		RateLimit: RateLimitConfig{
			ConnectionsPerSecond: 50,
			Burst:                100,
			CleanupInterval:      Duration(time.Minute),
		},
		Database: DatabaseConfig{
			Host:               "127.0.0.1",
			Port:               27017,
			Database:           "stomp_broker",
			ConnectTimeout:     Duration(10 * time.Second),
			SocketTimeout:      Duration(30 * time.Second),
			ConnectIdleTimeout: Duration(5 * time.Minute),
			OperationTimeout:   Duration(5 * time.Second),
			MaxPoolSize:        100,
			CacheSize:          1024,
			CacheTTL:           Duration(10 * time.Minute),
		},
	}
}

// Address is the listen address built from bind_address and app_port.
func (c Config) Address() string {
	return fmt.Sprintf("%s:%d", c.BindAddress, c.AppPort)
}

func (c Config) Validate() error {
	if c.AppPort < 0 || c.AppPort > 65535 {
		return fmt.Errorf("app_port out of range: %d", c.AppPort)
	}
	if len(c.Broker.AcceptVersions) == 0 {
		return errors.New("broker.accept_versions must not be empty")
	}
	if c.Broker.QueueSize <= 0 {
		return fmt.Errorf("broker.queue_size must be positive: %d", c.Broker.QueueSize)
	}
	if c.Broker.MaxFrameSize <= 0 {
		return fmt.Errorf("broker.max_frame_size must be positive: %d", c.Broker.MaxFrameSize)
	}
	if c.Broker.MaxConnections <= 0 {
		return fmt.Errorf("broker.max_connections must be positive: %d", c.Broker.MaxConnections)
	}
	for i, user := range c.Broker.Users {
		if user.Username == "" {
			return fmt.Errorf("broker.users[%d]: username is empty", i)
		}
	}
	if c.RateLimit.Enabled && c.RateLimit.ConnectionsPerSecond <= 0 {
		return errors.New("rate_limit.connections_per_second must be positive when rate limiting is enabled")
	}
	return nil
}

var (
	mu          sync.RWMutex
	config      Config
	initialized = false
)

// ReadConfig loads the file at path over the defaults. A missing file is
// created with the defaults and ErrConfigCreated is returned.
func ReadConfig(path string) (Config, error) {
	if path == "" {
		path = DefaultPath
	}
	bytes, err := os.ReadFile(path)

	if errors.Is(err, os.ErrNotExist) {
		data, _ := json.MarshalIndent(Default(), "", "\t")
		if err := os.WriteFile(path, data, 0644); err != nil {
			return Default(), fmt.Errorf("error creating configuration file %s: %w", path, err)
		}
		return Default(), ErrConfigCreated
	}
	if err != nil {
		return Default(), fmt.Errorf("error reading configuration file %s: %w", path, err)
	}

	loaded := Default()
	if err := json.Unmarshal(bytes, &loaded); err != nil {
		return loaded, fmt.Errorf("the configuration file does not contain valid JSON: %w", err)
	}
	if err := loaded.Validate(); err != nil {
		return loaded, fmt.Errorf("invalid configuration: %w", err)
	}

	mu.Lock()
	config = loaded
	initialized = true
	mu.Unlock()
	return loaded, nil
}

func GetConfig() (Config, error) {
	mu.RLock()
	if initialized {
		defer mu.RUnlock()
		return config, nil
	}
	mu.RUnlock()
	return ReadConfig(DefaultPath)
}

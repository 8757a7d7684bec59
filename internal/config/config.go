package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/gotrs-io/recipe-e2e/internal/browser"
)

// EnvPrefix is prepended to every environment override, so target.base_url
// is read from RECIPE_E2E_TARGET_BASE_URL.
const EnvPrefix = "RECIPE_E2E"

var (
	cfg       *Config
	once      sync.Once
	mu        sync.RWMutex
	logger    = zap.NewNop()
	listeners []func(*Config)
)

type Config struct {
	Target   TargetConfig    `mapstructure:"target"`
	Browser  BrowserConfig   `mapstructure:"browser"`
	Timeouts TimeoutsConfig  `mapstructure:"timeouts"`
	Runner   RunnerConfig    `mapstructure:"runner"`
	Store    StoreConfig     `mapstructure:"store"`
	Redis    RedisConfig     `mapstructure:"redis"`
	Server   ServerConfig    `mapstructure:"server"`
	Schedule []ScheduleEntry `mapstructure:"schedule"`
	Report   ReportConfig    `mapstructure:"report"`
	Logging  LoggingConfig   `mapstructure:"logging"`
}

type TargetConfig struct {
	BaseURL     string `mapstructure:"base_url"`
	Preflight   bool   `mapstructure:"preflight"`
	Autodetect  bool   `mapstructure:"autodetect"`
	LocatorSet  string `mapstructure:"locator_set"`
	LocatorFile string `mapstructure:"locator_file"`
	ScenarioDir string `mapstructure:"scenario_dir"`
}

type BrowserConfig struct {
	Driver         string        `mapstructure:"driver"`
	Headless       bool          `mapstructure:"headless"`
	Args           []string      `mapstructure:"args"`
	Window         browser.Size  `mapstructure:"window"`
	DefaultTimeout time.Duration `mapstructure:"default_timeout"`
	SlowMo         time.Duration `mapstructure:"slow_mo"`
	SkipInstall    bool          `mapstructure:"skip_install"`
	ExecPath       string        `mapstructure:"exec_path"`
}

// LaunchOptions converts the browser section for a driver.
func (b BrowserConfig) LaunchOptions() browser.LaunchOptions {
	return browser.LaunchOptions{
		Headless:       b.Headless,
		Args:           append([]string(nil), b.Args...),
		Window:         b.Window,
		DefaultTimeout: b.DefaultTimeout,
		SlowMo:         b.SlowMo,
		ExecPath:       b.ExecPath,
		SkipInstall:    b.SkipInstall,
	}
}

type TimeoutsConfig struct {
	Navigate    time.Duration `mapstructure:"navigate"`
	LoadSettle  time.Duration `mapstructure:"load_settle"`
	Step        time.Duration `mapstructure:"step"`
	SettleDelay time.Duration `mapstructure:"settle_delay"`
	Settle      string        `mapstructure:"settle"`
	Assertion   time.Duration `mapstructure:"assertion"`
}

type RunnerConfig struct {
	Parallel int `mapstructure:"parallel"`
}

type StoreConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Driver    string        `mapstructure:"driver"`
	DSN       string        `mapstructure:"dsn"`
	Retention time.Duration `mapstructure:"retention"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Channel  string `mapstructure:"channel"`
	ListKey  string `mapstructure:"list_key"`
	ListSize int64  `mapstructure:"list_size"`
}

// GetRedisAddr returns the Redis server address
func (c *RedisConfig) GetRedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// GetServerAddr returns the server listen address
func (c *ServerConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ScheduleEntry runs a selection of scenarios on a cron spec.
type ScheduleEntry struct {
	Name      string        `mapstructure:"name"`
	Spec      string        `mapstructure:"spec"`
	Scenarios []string      `mapstructure:"scenarios"`
	Tags      []string      `mapstructure:"tags"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

type ReportConfig struct {
	Format         string `mapstructure:"format"`
	Output         string `mapstructure:"output"`
	ScreenshotsDir string `mapstructure:"screenshots_dir"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("target.base_url", "http://localhost:4200")
	v.SetDefault("target.preflight", true)
	v.SetDefault("target.autodetect", true)
	v.SetDefault("target.locator_set", "angular-v1")
	v.SetDefault("target.locator_file", "")
	v.SetDefault("target.scenario_dir", "")

	v.SetDefault("browser.driver", "playwright")
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.args", []string{"--disable-dev-shm-usage", "--ipc=host", "--single-process"})
	v.SetDefault("browser.window.width", 1280)
	v.SetDefault("browser.window.height", 720)
	v.SetDefault("browser.default_timeout", 5*time.Second)
	v.SetDefault("browser.slow_mo", time.Duration(0))
	v.SetDefault("browser.skip_install", false)
	v.SetDefault("browser.exec_path", "")

	v.SetDefault("timeouts.navigate", 10*time.Second)
	v.SetDefault("timeouts.load_settle", 3*time.Second)
	v.SetDefault("timeouts.step", 5*time.Second)
	v.SetDefault("timeouts.settle_delay", 3*time.Second)
	v.SetDefault("timeouts.settle", "poll")
	v.SetDefault("timeouts.assertion", 5*time.Second)

	v.SetDefault("runner.parallel", 1)

	v.SetDefault("store.enabled", true)
	v.SetDefault("store.driver", "sqlite3")
	v.SetDefault("store.dsn", "recipe-e2e.db")
	v.SetDefault("store.retention", 30*24*time.Hour)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.channel", "recipe-e2e:results")
	v.SetDefault("redis.list_key", "recipe-e2e:latest")
	v.SetDefault("redis.list_size", 100)

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8090)
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("report.format", "console")
	v.SetDefault("report.output", "")
	v.SetDefault("report.screenshots_dir", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)

	// Environment variable overrides
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	c := &Config{}
	if err := v.Unmarshal(c); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// SetLogger sets the logger used to report reloads.
func SetLogger(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	if l == nil {
		l = zap.NewNop()
	}
	logger = l
}

// OnChange registers fn to be called with every successfully reloaded config.
func OnChange(fn func(*Config)) {
	mu.Lock()
	defer mu.Unlock()
	listeners = append(listeners, fn)
}

// Load initializes the configuration with hot reload support. configPath is
// either a directory searched for config.yaml or a file. A missing file is not
// an error: defaults and environment overrides still apply.
func Load(configPath string) error {
	var err error
	once.Do(func() {
		v := newViper()

		if info, statErr := os.Stat(configPath); statErr == nil && !info.IsDir() {
			v.SetConfigFile(configPath)
		} else {
			v.SetConfigName("config")
			if configPath != "" {
				v.AddConfigPath(configPath)
			}
			v.AddConfigPath(".")
		}

		found := true
		if err = v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				err = fmt.Errorf("failed to read config: %w", err)
				return
			}
			found = false
			err = nil
		}

		var loaded *Config
		if loaded, err = decode(v); err != nil {
			return
		}
		mu.Lock()
		cfg = loaded
		mu.Unlock()

		if !found {
			return
		}

		// Watch for config changes
		v.WatchConfig()
		v.OnConfigChange(func(e fsnotify.Event) {
			reload(v, e.Name)
		})
	})

	return err
}

func reload(v *viper.Viper, name string) {
	newCfg, err := decode(v)

	mu.Lock()
	log := logger.With(zap.String("file", name))
	if err != nil {
		mu.Unlock()
		log.Warn("config reload rejected", zap.Error(err))
		return
	}
	// Atomic swap
	cfg = newCfg
	fns := append([]func(*Config){}, listeners...)
	mu.Unlock()

	log.Info("configuration reloaded")
	for _, fn := range fns {
		fn(newCfg)
	}
}

// Get returns the current configuration (thread-safe)
func Get() *Config {
	mu.RLock()
	defer mu.RUnlock()
	return cfg
}

// LoadFromFile loads configuration from a specific file without watching it.
func LoadFromFile(configFile string) error {
	v := newViper()
	v.SetConfigFile(configFile)

	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	loaded, err := decode(v)
	if err != nil {
		return err
	}

	mu.Lock()
	defer mu.Unlock()
	cfg = loaded
	return nil
}

// Defaults returns the configuration built from defaults and the environment.
func Defaults() (*Config, error) {
	return decode(newViper())
}

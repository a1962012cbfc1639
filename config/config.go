package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/alejandrodnm/strikebot/internal/strategy"
)

// Config es la configuración completa del bot.
type Config struct {
	Engine  EngineConfig   `yaml:"engine"`
	Wallets []WalletConfig `yaml:"wallets"`
	Sweeper SweeperConfig  `yaml:"sweeper"`
	API     APIConfig      `yaml:"api"`
	Storage StorageConfig  `yaml:"storage"`
	Log     LogConfig      `yaml:"log"`
}

// EngineConfig controla el loop de evaluación.
type EngineConfig struct {
	TickIntervalSeconds     int      `yaml:"tick_interval_seconds"`
	SnapshotIntervalSeconds int      `yaml:"snapshot_interval_seconds"` // cadencia de snapshots de cartera
	SnapshotMaxAgeSeconds   int      `yaml:"snapshot_max_age_seconds"`  // frescura de datos de mercado
	OrderTimeoutSeconds     int      `yaml:"order_timeout_seconds"`
	RiskFreeRate            float64  `yaml:"risk_free_rate"` // anualizada, decimal
	Assets                  []string `yaml:"assets"`
	DryRun                  bool     `yaml:"dry_run"`
}

// WalletConfig define un wallet operado por el bot y sus estrategias.
type WalletConfig struct {
	ID                 string  `yaml:"id"`
	InitialBalanceUSDC float64 `yaml:"initial_balance_usdc"`
	AutoTrade          bool    `yaml:"auto_trade"`
	MaxPositionUSDC    float64 `yaml:"max_position_usdc"` // tope por señal

	Strategies StrategiesConfig `yaml:"strategies"`
}

// StrategiesConfig agrupa los bloques de las cuatro estrategias. El orden
// de prioridad en empates es fijo: arbitrage > edge_hedge > expiry_sniper > trend.
type StrategiesConfig struct {
	Arbitrage    strategy.ArbitrageConfig    `yaml:"arbitrage"`
	EdgeHedge    strategy.EdgeHedgeConfig    `yaml:"edge_hedge"`
	ExpirySniper strategy.ExpirySniperConfig `yaml:"expiry_sniper"`
	Trend        strategy.TrendConfig        `yaml:"trend"`
}

// SweeperConfig controla el redemption sweeper.
type SweeperConfig struct {
	IntervalSeconds int     `yaml:"interval_seconds"`
	FeeRate         float64 `yaml:"fee_rate"` // fee sobre el payoff al redimir
	MaxAttempts     int     `yaml:"max_attempts"`
}

// APIConfig contiene los base URLs de las APIs externas.
type APIConfig struct {
	CLOBBase      string `yaml:"clob_base"`
	GammaBase     string `yaml:"gamma_base"`
	BinanceBase   string `yaml:"binance_base"`
	BinanceWSBase string `yaml:"binance_ws_base"`
}

// StorageConfig controla dónde se persiste el ledger.
type StorageConfig struct {
	DSN string `yaml:"dsn"` // ruta al archivo SQLite, o ":memory:"
}

// LogConfig controla el formato y nivel de logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Load carga la configuración desde el archivo YAML y el archivo .env si existe.
// Los valores del .env sobreescriben los del YAML para las keys que correspondan.
func Load(path string) (*Config, error) {
	// Cargar .env si existe (silencia error si no hay archivo)
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config.Load: %w", err)
	}
	return &cfg, nil
}

// TickInterval devuelve el intervalo de evaluación como time.Duration.
func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.Engine.TickIntervalSeconds) * time.Second
}

// SnapshotInterval devuelve la cadencia de snapshots de cartera.
func (c *Config) SnapshotInterval() time.Duration {
	return time.Duration(c.Engine.SnapshotIntervalSeconds) * time.Second
}

// SnapshotMaxAge devuelve la edad máxima de datos de mercado.
func (c *Config) SnapshotMaxAge() time.Duration {
	return time.Duration(c.Engine.SnapshotMaxAgeSeconds) * time.Second
}

// OrderTimeout devuelve el timeout por orden.
func (c *Config) OrderTimeout() time.Duration {
	return time.Duration(c.Engine.OrderTimeoutSeconds) * time.Second
}

// SweepInterval devuelve la cadencia del redemption sweeper.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Sweeper.IntervalSeconds) * time.Second
}

// Validate rechaza configuraciones sin sentido antes de arrancar nada.
func (c *Config) Validate() error {
	if len(c.Wallets) == 0 {
		return fmt.Errorf("validate: at least one wallet required")
	}
	if len(c.Engine.Assets) == 0 {
		return fmt.Errorf("validate: at least one asset required")
	}
	if c.Engine.RiskFreeRate < 0 || c.Engine.RiskFreeRate > 0.5 {
		return fmt.Errorf("validate: risk_free_rate out of range: %.4f", c.Engine.RiskFreeRate)
	}

	seen := make(map[string]bool, len(c.Wallets))
	for _, w := range c.Wallets {
		if w.ID == "" {
			return fmt.Errorf("validate: wallet without id")
		}
		if seen[w.ID] {
			return fmt.Errorf("validate: duplicate wallet id %q", w.ID)
		}
		seen[w.ID] = true

		if w.InitialBalanceUSDC <= 0 {
			return fmt.Errorf("validate: wallet %s: initial_balance_usdc must be positive: %.2f",
				w.ID, w.InitialBalanceUSDC)
		}
		if err := w.Strategies.Validate(); err != nil {
			return fmt.Errorf("validate: wallet %s: %w", w.ID, err)
		}
	}
	return nil
}

// Validate valida solo las estrategias habilitadas — los bloques apagados
// pueden quedarse a cero en el YAML.
func (s StrategiesConfig) Validate() error {
	if s.Arbitrage.Enabled {
		if err := s.Arbitrage.Validate(); err != nil {
			return err
		}
	}
	if s.EdgeHedge.Enabled {
		if err := s.EdgeHedge.Validate(); err != nil {
			return err
		}
	}
	if s.ExpirySniper.Enabled {
		if err := s.ExpirySniper.Validate(); err != nil {
			return err
		}
	}
	if s.Trend.Enabled {
		if err := s.Trend.Validate(); err != nil {
			return err
		}
	}
	return nil
}

// Enabled devuelve true si el wallet tiene al menos una estrategia activa.
func (s StrategiesConfig) Enabled() bool {
	return s.Arbitrage.Enabled || s.EdgeHedge.Enabled || s.ExpirySniper.Enabled || s.Trend.Enabled
}

// applyEnvOverrides sobreescribe valores con variables de entorno si están presentes.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("STORAGE_DSN"); v != "" {
		cfg.Storage.DSN = v
	}
}

// setDefaults asegura que los valores requeridos tengan valores sensatos.
func setDefaults(cfg *Config) {
	if cfg.Engine.TickIntervalSeconds <= 0 {
		cfg.Engine.TickIntervalSeconds = 5
	}
	if cfg.Engine.SnapshotIntervalSeconds <= 0 {
		cfg.Engine.SnapshotIntervalSeconds = 300
	}
	if cfg.Engine.SnapshotMaxAgeSeconds <= 0 {
		cfg.Engine.SnapshotMaxAgeSeconds = 30
	}
	if cfg.Engine.OrderTimeoutSeconds <= 0 {
		cfg.Engine.OrderTimeoutSeconds = 10
	}
	if len(cfg.Engine.Assets) == 0 {
		cfg.Engine.Assets = []string{"BTC", "ETH"}
	}
	if cfg.Sweeper.IntervalSeconds <= 0 {
		cfg.Sweeper.IntervalSeconds = 300
	}
	if cfg.Sweeper.MaxAttempts <= 0 {
		cfg.Sweeper.MaxAttempts = 20
	}
	if cfg.API.CLOBBase == "" {
		cfg.API.CLOBBase = "https://clob.polymarket.com"
	}
	if cfg.API.GammaBase == "" {
		cfg.API.GammaBase = "https://gamma-api.polymarket.com"
	}
	if cfg.API.BinanceBase == "" {
		cfg.API.BinanceBase = "https://api.binance.com"
	}
	if cfg.API.BinanceWSBase == "" {
		cfg.API.BinanceWSBase = "wss://stream.binance.com:9443"
	}
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "strikebot.db"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}

	for i := range cfg.Wallets {
		if cfg.Wallets[i].MaxPositionUSDC <= 0 {
			cfg.Wallets[i].MaxPositionUSDC = 250
		}
	}
}

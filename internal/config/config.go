package config

import (
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config корневая структура конфигурации сервера.

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	EventBus  EventBusConfig  `yaml:"eventbus"`
	Storage   StorageConfig   `yaml:"storage"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

type ServerConfig struct {
	Host        string `yaml:"host"`
	TCPPort     int    `yaml:"tcp_port"`
	KCPPort     int    `yaml:"kcp_port"`
	RESTPort    int    `yaml:"rest_port"`
	CertFile    string `yaml:"cert_file"`
	KeyFile     string `yaml:"key_file"`
	KCPPassword string `yaml:"kcp_password"`
}

type EventBusConfig struct {
	// URL кластера NATS; пусто — используется in-memory шина.
	URL       string `yaml:"url"`
	Stream    string `yaml:"stream"`
	Retention int    `yaml:"retention_hours"`
}

type StorageConfig struct {
	DataDir string `yaml:"data_dir"`
	// Опциональные бекенды; пустое значение отключает соответствующий слой.
	RedisAddr string `yaml:"redis_addr"`
	MariaDSN  string `yaml:"maria_dsn"`
	MongoURI  string `yaml:"mongo_uri"`
}

type TelemetryConfig struct {
	OTLPEndpoint string `yaml:"otlp_endpoint"`
}

// GetTCPPort возвращает TCP порт с поддержкой fallback значений
func (s *ServerConfig) GetTCPPort() int {
	return getPortWithEnvFallback(s.TCPPort, "OPENFPS_TCP_PORT", 33288)
}

// GetKCPPort возвращает KCP порт с поддержкой fallback значений
func (s *ServerConfig) GetKCPPort() int {
	return getPortWithEnvFallback(s.KCPPort, "OPENFPS_KCP_PORT", 33289)
}

// GetRESTPort возвращает порт административного REST API
func (s *ServerConfig) GetRESTPort() int {
	return getPortWithEnvFallback(s.RESTPort, "OPENFPS_REST_PORT", 8088)
}

// GetHost возвращает адрес прослушивания (по умолчанию все интерфейсы)
func (s *ServerConfig) GetHost() string {
	if s.Host != "" {
		return s.Host
	}
	if env := os.Getenv("OPENFPS_HOST"); env != "" {
		return env
	}
	return "0.0.0.0"
}

// GetDataDir возвращает каталог данных с fallback на ENV и "./data"
func (sc *StorageConfig) GetDataDir() string {
	if sc.DataDir != "" {
		return sc.DataDir
	}
	if env := os.Getenv("OPENFPS_DATA_DIR"); env != "" {
		return env
	}
	return "data"
}

// getPortWithEnvFallback возвращает порт с приоритетом: config -> env -> default
func getPortWithEnvFallback(configPort int, envVar string, defaultPort int) int {
	if configPort > 0 {
		return configPort
	}

	if envVal := os.Getenv(envVar); envVal != "" {
		if port, err := strconv.Atoi(envVal); err == nil && port > 0 {
			return port
		}
	}

	return defaultPort
}

// Load читает YAML файл конфигурации.
// Если path == "", пытается прочитать из ENV OPENFPS_CONFIG или возвращает nil, nil.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("OPENFPS_CONFIG")
		if path == "" {
			return nil, nil // конфиг не задан — использовать дефолты
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

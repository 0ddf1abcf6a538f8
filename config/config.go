package config

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v4"
)

type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Redis    RedisConfig    `yaml:"redis"`
	Shipping ShippingConfig `yaml:"shipping"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

type KafkaConfig struct {
	Host                      string `yaml:"host"`
	Port                      int    `yaml:"port"`
	ShippingEventsTopicName   string `yaml:"shipping_events_topic_name"`
	ShipmentRequestsTopicName string `yaml:"shipment_requests_topic_name"`
}

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type ShippingConfig struct {
	HTTPAddr           string `yaml:"http_addr"`
	KafkaConsumerGroup string `yaml:"kafka_consumer_group"`
	DefaultProvider    string `yaml:"default_provider"`

	// CarrierTimeoutSeconds bounds every outbound carrier request.
	CarrierTimeoutSeconds int `yaml:"carrier_timeout_seconds"`
	// SendLockTTLSeconds must be larger than CarrierTimeoutSeconds.
	SendLockTTLSeconds int `yaml:"send_lock_ttl_seconds"`

	SyncConcurrency        int `yaml:"sync_concurrency"`
	SyncRateLimitPerMinute int `yaml:"sync_rate_limit_per_minute"`
}

func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	return &config, nil
}

// PostgresURL builds the pgx connection string; ssl mode defaults to disable.
func (c DatabaseConfig) PostgresURL() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Username, c.Password, c.Host, c.Port, c.DBName, sslMode)
}

package global

import (
	"os"
	"strings"

	"chatbus/tools/errs"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// Bus backend selection.
const (
	BusBackendRedis  = "redis"
	BusBackendNats   = "nats"
	BusBackendKafka  = "kafka"
	BusBackendMemory = "memory"
)

type RedisConfig struct {
	Addr     string `yaml:"addr" mapstructure:"addr"`
	Password string `yaml:"password" mapstructure:"password"`
	DB       int    `yaml:"db" mapstructure:"db"`
	PoolSize int    `yaml:"pool_size" mapstructure:"pool_size"`
}

type NatsConfig struct {
	Servers []string `yaml:"servers" mapstructure:"servers"`
	Name    string   `yaml:"name" mapstructure:"name"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers" mapstructure:"brokers"`
	Topic   string   `yaml:"topic" mapstructure:"topic"`
	// Firehose mirrors every publish from the primary bus onto Kafka.
	Firehose bool `yaml:"firehose" mapstructure:"firehose"`
}

type MongoConfig struct {
	URI      string `yaml:"uri" mapstructure:"uri"`
	Database string `yaml:"database" mapstructure:"database"`
}

type PostgresConfig struct {
	URL string `yaml:"url" mapstructure:"url"`
}

type AppConfig struct {
	NodeID     int64  `yaml:"node_id" mapstructure:"node_id"`
	Port       int    `yaml:"port" mapstructure:"port"`
	BusBackend string `yaml:"bus_backend" mapstructure:"bus_backend"`
	JwtSecret  string `yaml:"jwt_secret" mapstructure:"jwt_secret"`

	Redis    RedisConfig    `yaml:"redis" mapstructure:"redis"`
	Nats     NatsConfig     `yaml:"nats" mapstructure:"nats"`
	Kafka    KafkaConfig    `yaml:"kafka" mapstructure:"kafka"`
	Mongo    MongoConfig    `yaml:"mongo" mapstructure:"mongo"`
	Postgres PostgresConfig `yaml:"postgres" mapstructure:"postgres"`
}

var Global = Default()

func Default() AppConfig {
	return AppConfig{
		NodeID:     100,
		Port:       8080,
		BusBackend: BusBackendRedis,
		Redis:      RedisConfig{Addr: "127.0.0.1:6379", PoolSize: 10},
		Nats:       NatsConfig{Servers: []string{"nats://127.0.0.1:4222"}, Name: "chatbus"},
		Kafka:      KafkaConfig{Brokers: []string{"127.0.0.1:9092"}, Topic: "chatbus-events"},
		Mongo:      MongoConfig{URI: "mongodb://127.0.0.1:27017", Database: "chatbus"},
		Postgres:   PostgresConfig{URL: "postgres://chatbus@127.0.0.1:5432/chatbus"},
	}
}

// Load reads the YAML config file into Global, then applies env overrides.
func Load(path string) error {
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return errs.Wrapf(err, "read config %s", path)
		}
		if err := yaml.Unmarshal(raw, &Global); err != nil {
			return errs.Wrapf(err, "parse config %s", path)
		}
	}
	return applyEnv(&Global)
}

// applyEnv overlays CHATBUS_* environment variables onto cfg. Keys use
// underscores for nesting, e.g. CHATBUS_REDIS_ADDR.
func applyEnv(cfg *AppConfig) error {
	overlay := map[string]any{}
	for _, kv := range os.Environ() {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(name, "CHATBUS_") {
			continue
		}
		key := strings.ToLower(strings.TrimPrefix(name, "CHATBUS_"))
		switch {
		case key == "bus_backend":
			overlay["bus_backend"] = value
		case key == "jwt_secret":
			overlay["jwt_secret"] = value
		case key == "redis_addr":
			overlay["redis"] = map[string]any{"addr": value}
		case key == "nats_servers":
			overlay["nats"] = map[string]any{"servers": strings.Split(value, ",")}
		case key == "kafka_brokers":
			subMap(overlay, "kafka")["brokers"] = strings.Split(value, ",")
		case key == "kafka_firehose":
			subMap(overlay, "kafka")["firehose"] = value
		case key == "mongo_uri":
			overlay["mongo"] = map[string]any{"uri": value}
		case key == "postgres_url":
			overlay["postgres"] = map[string]any{"url": value}
		}
	}
	if len(overlay) == 0 {
		return nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return errs.Wrap(err, "build config decoder")
	}
	return dec.Decode(overlay)
}

func subMap(overlay map[string]any, key string) map[string]any {
	if m, ok := overlay[key].(map[string]any); ok {
		return m
	}
	m := map[string]any{}
	overlay[key] = m
	return m
}

func JwtSecret() []byte {
	if Global.JwtSecret != "" {
		return []byte(Global.JwtSecret)
	}
	return []byte("chatbus-dev-secret")
}

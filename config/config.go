package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"order-processor/retry"
)

type Config struct {
	Log             LogConfig
	DB              DBConfig
	Kafka           KafkaConfig
	Redis           RedisConfig
	HTTP            ServerConfig
	GRPC            ServerConfig
	Tracing         TracingConfig
	Payment         PaymentConfig
	OrderExpiration OrderExpirationConfig
	Retry           retry.Policy
}

type LogConfig struct {
	Development bool
}

type DBConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
}

func (c DBConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		c.Host, c.Port, c.User, c.Password, c.Name)
}

type KafkaConfig struct {
	Brokers          []string
	GroupID          string
	Driver           string
	Topics           Topics
	DeadLetterSuffix string
}

type Topics struct {
	Created   string
	Completed string
	Expired   string
}

type RedisConfig struct {
	// Addr empty disables the notification marker cache.
	Addr     string
	Password string
	TTL      time.Duration
}

type ServerConfig struct {
	Addr string
}

type TracingConfig struct {
	ServiceName    string
	JaegerEndpoint string
}

type PaymentConfig struct {
	Delay       time.Duration
	SuccessRate float64
}

type OrderExpirationConfig struct {
	IntervalSeconds int
	Threshold       time.Duration
	StartupDelay    time.Duration
}

func (c OrderExpirationConfig) Interval() time.Duration {
	return time.Duration(c.IntervalSeconds) * time.Second
}

const (
	DriverSarama  = "sarama"
	DriverKafkaGo = "kafka-go"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.development", false)

	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", "5432")
	v.SetDefault("db.user", "postgres")
	v.SetDefault("db.password", "postgres")
	v.SetDefault("db.name", "orderdb")

	v.SetDefault("kafka.broker", "localhost:9092")
	v.SetDefault("kafka.group_id", "order-processor")
	v.SetDefault("kafka.driver", DriverSarama)
	v.SetDefault("kafka.topics.created", "order_created")
	v.SetDefault("kafka.topics.completed", "order_completed")
	v.SetDefault("kafka.topics.expired", "order_expired")
	v.SetDefault("kafka.dead_letter_suffix", ".dlq")

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.ttl", 24*time.Hour)

	v.SetDefault("http.addr", ":8085")
	v.SetDefault("grpc.addr", ":50055")

	v.SetDefault("tracing.service_name", "order-processor")
	v.SetDefault("tracing.jaeger_endpoint", "")

	v.SetDefault("payment.delay", 5*time.Second)
	v.SetDefault("payment.success_rate", 0.5)

	v.SetDefault("order_expiration.interval_seconds", 60)
	v.SetDefault("order_expiration.threshold", 10*time.Minute)
	v.SetDefault("order_expiration.startup_delay", 5*time.Second)

	def := retry.DefaultPolicy()
	v.SetDefault("retry.limit", def.Limit)
	v.SetDefault("retry.min_interval", def.MinInterval)
	v.SetDefault("retry.max_interval", def.MaxInterval)
	v.SetDefault("retry.multiplier", def.Multiplier)
}

// Load reads defaults, then the optional YAML file at path, then the
// environment. Keys map to variables by upper-casing and replacing dots with
// underscores (order_expiration.interval_seconds -> ORDER_EXPIRATION_INTERVAL_SECONDS).
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	cfg := &Config{
		Log: LogConfig{Development: v.GetBool("log.development")},
		DB: DBConfig{
			Host:     v.GetString("db.host"),
			Port:     v.GetString("db.port"),
			User:     v.GetString("db.user"),
			Password: v.GetString("db.password"),
			Name:     v.GetString("db.name"),
		},
		Kafka: KafkaConfig{
			Brokers: splitList(v.GetString("kafka.broker")),
			GroupID: v.GetString("kafka.group_id"),
			Driver:  v.GetString("kafka.driver"),
			Topics: Topics{
				Created:   v.GetString("kafka.topics.created"),
				Completed: v.GetString("kafka.topics.completed"),
				Expired:   v.GetString("kafka.topics.expired"),
			},
			DeadLetterSuffix: v.GetString("kafka.dead_letter_suffix"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			TTL:      v.GetDuration("redis.ttl"),
		},
		HTTP: ServerConfig{Addr: v.GetString("http.addr")},
		GRPC: ServerConfig{Addr: v.GetString("grpc.addr")},
		Tracing: TracingConfig{
			ServiceName:    v.GetString("tracing.service_name"),
			JaegerEndpoint: v.GetString("tracing.jaeger_endpoint"),
		},
		Payment: PaymentConfig{
			Delay:       v.GetDuration("payment.delay"),
			SuccessRate: v.GetFloat64("payment.success_rate"),
		},
		OrderExpiration: OrderExpirationConfig{
			IntervalSeconds: v.GetInt("order_expiration.interval_seconds"),
			Threshold:       v.GetDuration("order_expiration.threshold"),
			StartupDelay:    v.GetDuration("order_expiration.startup_delay"),
		},
		Retry: retry.Policy{
			Limit:       v.GetInt("retry.limit"),
			MinInterval: v.GetDuration("retry.min_interval"),
			MaxInterval: v.GetDuration("retry.max_interval"),
			Multiplier:  v.GetFloat64("retry.multiplier"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.broker must not be empty")
	}
	if c.Kafka.Driver != DriverSarama && c.Kafka.Driver != DriverKafkaGo {
		return fmt.Errorf("invalid kafka.driver %q: must be %q or %q", c.Kafka.Driver, DriverSarama, DriverKafkaGo)
	}
	if c.OrderExpiration.IntervalSeconds <= 0 {
		return fmt.Errorf("invalid order_expiration.interval_seconds: %d", c.OrderExpiration.IntervalSeconds)
	}
	if c.OrderExpiration.Threshold <= 0 {
		return fmt.Errorf("invalid order_expiration.threshold: %s", c.OrderExpiration.Threshold)
	}
	if c.Retry.Limit < 0 {
		return fmt.Errorf("invalid retry.limit: %d", c.Retry.Limit)
	}
	if c.Retry.MaxInterval < c.Retry.MinInterval {
		return fmt.Errorf("retry.max_interval (%s) is below retry.min_interval (%s)", c.Retry.MaxInterval, c.Retry.MinInterval)
	}
	if c.Payment.Delay < 0 {
		return fmt.Errorf("invalid payment.delay: %s", c.Payment.Delay)
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

package lightodm

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
	mongoOptions "go.mongodb.org/mongo-driver/mongo/options"
)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultAppName        = "lightodm"
)

// MongoConfig holds the parameters needed to reach a MongoDB deployment.
type MongoConfig struct {
	URL            string        `mapstructure:"url"`
	User           string        `mapstructure:"user"`
	Password       string        `mapstructure:"password"`
	Database       string        `mapstructure:"db_name"`
	AuthSource     string        `mapstructure:"auth_source"`
	AppName        string        `mapstructure:"app_name"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
}

// LoadMongoConfig reads the configuration from the environment and, when path
// is not empty, from a config file. Environment variables win over the file:
//
//	MONGO_URL, MONGO_USER, MONGO_PASSWORD, MONGO_DB_NAME,
//	MONGO_AUTH_SOURCE, MONGO_APP_NAME, MONGO_CONNECT_TIMEOUT
//
// The file holds the same keys without the prefix, in lower case.
func LoadMongoConfig(path string) (MongoConfig, error) {
	v := viper.New()
	v.SetDefault("app_name", defaultAppName)
	v.SetDefault("connect_timeout", defaultConnectTimeout)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return MongoConfig{}, fmt.Errorf("%w: failed to read config file %s: %w", ErrConfiguration, path, err)
		}
	}

	v.SetEnvPrefix("mongo")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	for _, key := range []string{"url", "user", "password", "db_name", "auth_source", "app_name", "connect_timeout"} {
		if err := v.BindEnv(key); err != nil {
			return MongoConfig{}, err
		}
	}

	var cfg MongoConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return MongoConfig{}, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}

	return cfg, nil
}

// Validate reports the missing connection parameters, if any.
func (c MongoConfig) Validate() error {
	var missing []string
	if strings.TrimSpace(c.URL) == "" {
		missing = append(missing, "MONGO_URL")
	}
	if strings.TrimSpace(c.Database) == "" {
		missing = append(missing, "MONGO_DB_NAME")
	}
	if c.User != "" && c.Password == "" {
		missing = append(missing, "MONGO_PASSWORD")
	}
	if c.User == "" && c.Password != "" {
		missing = append(missing, "MONGO_USER")
	}

	if len(missing) > 0 {
		return fmt.Errorf("%w: MongoDB connection parameters %s must be set", ErrConfiguration, strings.Join(missing, ", "))
	}

	return nil
}

// ClientOptions translates the configuration into driver client options.
func (c MongoConfig) ClientOptions() *mongoOptions.ClientOptions {
	opts := mongoOptions.Client().ApplyURI(c.URL)
	if c.User != "" {
		opts.SetAuth(mongoOptions.Credential{
			Username:   c.User,
			Password:   c.Password,
			AuthSource: c.AuthSource,
		})
	}

	if c.AppName != "" {
		opts.SetAppName(c.AppName)
	}

	if c.ConnectTimeout > 0 {
		opts.SetConnectTimeout(c.ConnectTimeout)
	}

	return opts
}

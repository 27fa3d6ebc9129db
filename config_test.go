package lightodm

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var mongoEnvKeys = []string{
	"MONGO_URL", "MONGO_USER", "MONGO_PASSWORD", "MONGO_DB_NAME",
	"MONGO_AUTH_SOURCE", "MONGO_APP_NAME", "MONGO_CONNECT_TIMEOUT",
}

func clearMongoEnv(t *testing.T) {
	t.Helper()
	for _, key := range mongoEnvKeys {
		t.Setenv(key, "")
	}
}

func TestLoadMongoConfigFromEnv(t *testing.T) {
	clearMongoEnv(t)
	t.Setenv("MONGO_URL", "mongodb://localhost:27017")
	t.Setenv("MONGO_USER", "testuser")
	t.Setenv("MONGO_PASSWORD", "testpass")
	t.Setenv("MONGO_DB_NAME", "testdb")
	t.Setenv("MONGO_CONNECT_TIMEOUT", "3s")

	cfg, err := LoadMongoConfig("")
	require.NoError(t, err)

	assert.Equal(t, MongoConfig{
		URL:            "mongodb://localhost:27017",
		User:           "testuser",
		Password:       "testpass",
		Database:       "testdb",
		AppName:        defaultAppName,
		ConnectTimeout: 3 * time.Second,
	}, cfg)
	assert.NoError(t, cfg.Validate())
}

func TestLoadMongoConfigDefaults(t *testing.T) {
	clearMongoEnv(t)

	cfg, err := LoadMongoConfig("")
	require.NoError(t, err)
	assert.Equal(t, defaultAppName, cfg.AppName)
	assert.Equal(t, defaultConnectTimeout, cfg.ConnectTimeout)
	assert.Empty(t, cfg.URL)
}

func TestLoadMongoConfigFromFile(t *testing.T) {
	clearMongoEnv(t)

	path := filepath.Join(t.TempDir(), "mongo.yaml")
	content := "url: mongodb://file:27017\ndb_name: filedb\nauth_source: admin\napp_name: reports\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := LoadMongoConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "mongodb://file:27017", cfg.URL)
	assert.Equal(t, "filedb", cfg.Database)
	assert.Equal(t, "admin", cfg.AuthSource)
	assert.Equal(t, "reports", cfg.AppName)

	t.Setenv("MONGO_DB_NAME", "envdb")
	cfg, err = LoadMongoConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "envdb", cfg.Database, "environment wins over the file")
}

func TestLoadMongoConfigMissingFile(t *testing.T) {
	_, err := LoadMongoConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.ErrorIs(t, err, ErrConfiguration)
}

func TestMongoConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     MongoConfig
		missing []string
	}{
		{name: "complete", cfg: MongoConfig{URL: "mongodb://h", Database: "db", User: "u", Password: "p"}},
		{name: "without auth", cfg: MongoConfig{URL: "mongodb://h", Database: "db"}},
		{name: "empty", cfg: MongoConfig{}, missing: []string{"MONGO_URL", "MONGO_DB_NAME"}},
		{name: "user without password", cfg: MongoConfig{URL: "mongodb://h", Database: "db", User: "u"}, missing: []string{"MONGO_PASSWORD"}},
		{name: "password without user", cfg: MongoConfig{URL: "mongodb://h", Database: "db", Password: "p"}, missing: []string{"MONGO_USER"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if len(tt.missing) == 0 {
				assert.NoError(t, err)
				return
			}

			require.ErrorIs(t, err, ErrConfiguration)
			assert.Contains(t, err.Error(), "MongoDB connection parameters")
			for _, key := range tt.missing {
				assert.Contains(t, err.Error(), key)
			}
		})
	}
}

func TestMongoConfigClientOptions(t *testing.T) {
	cfg := MongoConfig{
		URL:            "mongodb://localhost:27017",
		User:           "u",
		Password:       "p",
		AuthSource:     "admin",
		AppName:        "app",
		ConnectTimeout: 5 * time.Second,
	}

	opts := cfg.ClientOptions()
	require.NoError(t, opts.Validate())
	require.NotNil(t, opts.Auth)
	assert.Equal(t, "u", opts.Auth.Username)
	assert.Equal(t, "p", opts.Auth.Password)
	assert.Equal(t, "admin", opts.Auth.AuthSource)
	require.NotNil(t, opts.AppName)
	assert.Equal(t, "app", *opts.AppName)
	require.NotNil(t, opts.ConnectTimeout)
	assert.Equal(t, 5*time.Second, *opts.ConnectTimeout)

	opts = MongoConfig{URL: "mongodb://localhost:27017"}.ClientOptions()
	assert.Nil(t, opts.Auth)
}

func TestNewConnection(t *testing.T) {
	_, err := NewConnection(MongoConfig{})
	require.ErrorIs(t, err, ErrConfiguration)

	conn, err := NewConnection(MongoConfig{URL: "mongodb://localhost:27017", Database: "db"})
	require.NoError(t, err)
	assert.NoError(t, conn.Close(context.Background()), "closing a connection that never dialed is a no-op")
}

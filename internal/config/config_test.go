package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("MONGODB_URI", "")
	t.Setenv("AUTH_MODE", "")

	c, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", c.HTTPPort)
	assert.False(t, c.PersistenceConfigured())
	assert.Equal(t, "taskhub", c.MongoDatabase)
	assert.Equal(t, "tasks", c.MongoCollection)
	assert.Equal(t, 30*time.Second, c.MongoRetryCooldown)
	assert.Equal(t, 5*time.Second, c.StoreTimeout)
	assert.Equal(t, AuthModeFixed, c.AuthMode)
	assert.Equal(t, "default-user", c.DefaultOwner)
	assert.Equal(t, []string{"*"}, c.CORSAllowedOrigins)
	assert.Equal(t, []string{"/api/tasks", "/api/v1/tasks"}, c.TasksBasePaths)
	assert.Empty(t, c.KafkaBrokers)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("HTTP_PORT", "9000")
	t.Setenv("MONGODB_URI", "  mongodb://localhost:27017  ")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,,")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("STORE_TIMEOUT", "750ms")
	t.Setenv("AUTH_MODE", "JWT")
	t.Setenv("JWT_SECRET", "s3cret")

	c, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9000", c.HTTPPort)
	assert.True(t, c.PersistenceConfigured())
	assert.Equal(t, "mongodb://localhost:27017", c.MongoURI)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, c.KafkaBrokers)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, c.CORSAllowedOrigins)
	assert.Equal(t, 750*time.Millisecond, c.StoreTimeout)
	assert.Equal(t, AuthModeJWT, c.AuthMode)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"jwt without secret", map[string]string{"AUTH_MODE": "jwt", "JWT_SECRET": ""}},
		{"unknown auth mode", map[string]string{"AUTH_MODE": "basic"}},
		{"bad port", map[string]string{"HTTP_PORT": "http"}},
		{"relative base path", map[string]string{"TASKS_BASE_PATHS": "api/tasks"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

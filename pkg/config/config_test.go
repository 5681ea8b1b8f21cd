package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWithHeaderAuth(t *testing.T) {
	t.Setenv("ENVIRONMENT", "development")
	t.Setenv("AUTH_MODE", "header")
	t.Setenv("STORE_DRIVER", "memory")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.ServerPort)
	assert.Equal(t, "memory", cfg.StoreDriver)
	assert.Equal(t, 72*time.Hour, cfg.OfferDefaultTTL)
	assert.Equal(t, 15*time.Minute, cfg.MessageEditWindow)
	assert.Equal(t, time.Minute, cfg.OfferSweepInterval)
	assert.True(t, cfg.IsDevelopment())
}

func TestLoadReadsEnvironmentOverrides(t *testing.T) {
	t.Setenv("ENVIRONMENT", "development")
	t.Setenv("AUTH_MODE", "header")
	t.Setenv("STORE_DRIVER", "SQLite")
	t.Setenv("DATABASE_SQLITE_PATH", "/tmp/chat.db")
	t.Setenv("OFFER_DEFAULT_TTL", "24h")
	t.Setenv("OFFER_SWEEP_INTERVAL", "30s")
	t.Setenv("SERVER_PORT", "9090")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.StoreDriver)
	assert.Equal(t, "/tmp/chat.db", cfg.Database.SQLitePath)
	assert.Equal(t, 24*time.Hour, cfg.OfferDefaultTTL)
	assert.Equal(t, 30*time.Second, cfg.OfferSweepInterval)
	assert.Equal(t, "9090", cfg.ServerPort)
}

func TestLoadRejectsHeaderAuthOutsideDevelopment(t *testing.T) {
	t.Setenv("ENVIRONMENT", "production")
	t.Setenv("AUTH_MODE", "header")
	t.Setenv("STORE_DRIVER", "memory")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadRequiresFirebaseProjectForFirestore(t *testing.T) {
	t.Setenv("ENVIRONMENT", "development")
	t.Setenv("AUTH_MODE", "header")
	t.Setenv("STORE_DRIVER", "firestore")
	t.Setenv("FIREBASE_PROJECT_ID", "")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	t.Setenv("ENVIRONMENT", "development")
	t.Setenv("AUTH_MODE", "header")
	t.Setenv("STORE_DRIVER", "cassandra")

	_, err := Load()
	assert.Error(t, err)
}

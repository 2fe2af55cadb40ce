package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Run("默认值", func(t *testing.T) {
		cfg := Load()
		assert.Equal(t, "sqlite", cfg.Database.Driver)
		assert.Equal(t, 24*time.Hour, cfg.Auth.JWTExpiry)
		assert.Equal(t, 5, cfg.Webhooks.MaxRetries)
		assert.Equal(t, 500, cfg.Housekeeping.BatchSize)
		assert.False(t, cfg.Bounce.Enabled)
	})

	t.Run("环境变量覆盖", func(t *testing.T) {
		t.Setenv("BASE_URL", "https://mail.example.com/")
		t.Setenv("DB_DRIVER", "postgres")
		t.Setenv("CORS_ORIGINS", "https://a.example.com, https://b.example.com")
		t.Setenv("WEBHOOKS_INTERVAL", "30s")
		t.Setenv("HOUSEKEEPING_BATCH_SIZE", "not-a-number")
		t.Setenv("BOUNCE_ENABLED", "1")

		cfg := Load()
		assert.Equal(t, "https://mail.example.com", cfg.Server.BaseURL)
		assert.Equal(t, "postgres", cfg.Database.Driver)
		assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.CORS.Origins)
		assert.Equal(t, 30*time.Second, cfg.Webhooks.Interval)
		assert.Equal(t, 500, cfg.Housekeeping.BatchSize)
		assert.True(t, cfg.Bounce.Enabled)
	})
}

func TestServerPresets(t *testing.T) {
	presets := GetServerPresets()
	require.Contains(t, presets, "gmail")
	require.Contains(t, presets, "custom")

	gmail := GetPresetByDomain("GMAIL.com")
	require.NotNil(t, gmail)
	assert.Equal(t, "gmail", gmail.Name)

	outlook := GetPresetByDomain("outlook.de")
	require.NotNil(t, outlook)
	assert.Equal(t, presets["outlook"].SMTPHost, outlook.SMTPHost)

	custom := GetPresetByDomain("example.org")
	require.NotNil(t, custom)
	assert.Equal(t, "custom", custom.Name)

	assert.Nil(t, GetPresetByName("missing"))
}

func TestDomainMatches(t *testing.T) {
	tests := []struct {
		pattern string
		domain  string
		want    bool
	}{
		{"gmail.com", "gmail.com", true},
		{"gmail.com", "mail.gmail.com", false},
		{"outlook.*", "outlook.com", true},
		{"outlook.*", "outlook.co.uk", true},
		{"outlook.*", "outlookx.com", false},
		{"", "gmail.com", false},
		{"gmail.com", "", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, DomainMatches(tt.pattern, tt.domain), tt.pattern+" "+tt.domain)
	}
}

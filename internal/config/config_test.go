package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	// Containers export HOSTNAME and PaaS runtimes export PORT; pin them so
	// the defaults are what gets tested.
	t.Setenv("HOSTNAME", "")
	t.Setenv("PORT", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Host)
	assert.Equal(t, 2222, cfg.SSHPort)
	assert.Equal(t, 8080, cfg.HTTPPort)
	assert.Equal(t, 2525, cfg.SMTPPort)
	assert.Equal(t, 3306, cfg.MySQLPort)
	assert.Equal(t, 8081, cfg.DecoyPort)
	assert.Equal(t, 50, cfg.SSHMaxConns)
	assert.Equal(t, 100, cfg.HTTPMaxConns)
	assert.Equal(t, 25, cfg.MySQLMaxConns)
	assert.Equal(t, 300, cfg.BanTime)
	assert.Equal(t, 1048576, cfg.MaxMessageSize)
	assert.Equal(t, "mail.example.com", cfg.SMTPHostname)
	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.Equal(t, 0, cfg.OpsPort)
	assert.Empty(t, cfg.RedisAddr)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("HOST", "127.0.0.1")
	t.Setenv("SSH_PORT", "2022")
	t.Setenv("BAN_TIME", "60")
	t.Setenv("MAX_MESSAGE_SIZE", "4096")
	t.Setenv("HOSTNAME", "mx1.corp.example")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Host)
	assert.Equal(t, 2022, cfg.SSHPort)
	assert.Equal(t, 60, cfg.BanTime)
	assert.Equal(t, 4096, cfg.MaxMessageSize)
	assert.Equal(t, "mx1.corp.example", cfg.SMTPHostname)
}

func TestHoneypotPortServiceLinkGuard(t *testing.T) {
	// Kubernetes service links can inject tcp://host:port values; those
	// must fall back to the listener default.
	t.Setenv("HONEYPOT_PORT", "tcp://10.0.0.1:2222")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 2222, cfg.SSHPort)
	assert.Equal(t, 8080, cfg.HTTPPort)
}

func TestHoneypotPortSharedOverride(t *testing.T) {
	t.Setenv("HONEYPOT_PORT", "9999")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 9999, cfg.SSHPort)
	assert.Equal(t, 9999, cfg.HTTPPort)
	assert.Equal(t, 9999, cfg.MySQLPort)
	// SMTP and the decoy API keep their own variables.
	assert.Equal(t, 2525, cfg.SMTPPort)
	assert.Equal(t, 8081, cfg.DecoyPort)
}

func TestListenerSpecificPortBeatsShared(t *testing.T) {
	t.Setenv("HONEYPOT_PORT", "9999")
	t.Setenv("MYSQL_PORT", "3307")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3307, cfg.MySQLPort)
	assert.Equal(t, 9999, cfg.SSHPort)
}

func TestSharedMaxConnections(t *testing.T) {
	t.Setenv("MAX_CONNECTIONS", "10")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.SSHMaxConns)
	assert.Equal(t, 10, cfg.HTTPMaxConns)
	assert.Equal(t, 10, cfg.MySQLMaxConns)
}

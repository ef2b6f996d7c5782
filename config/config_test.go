package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	assert.NoError(t, Default().Validate())
}

func TestParseOverridesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
endpoint: http://127.0.0.1:2222
http2: true
timeout: 5s
dial_timeout: 2s
retry:
  max_retries: 2
  base_delay: 50ms
rate_limit:
  rps: 10
  burst: 5
log:
  level: debug
`))
	require.NoError(t, err)
	assert.Equal(t, "http://127.0.0.1:2222", cfg.Endpoint)
	assert.True(t, cfg.HTTP2)
	assert.Equal(t, 5*time.Second, cfg.Timeout)
	assert.Equal(t, 2*time.Second, cfg.DialTimeout)
	assert.Equal(t, 2, cfg.Retry.MaxRetries)
	assert.Equal(t, 50*time.Millisecond, cfg.Retry.BaseDelay)
	assert.Equal(t, 10.0, cfg.RateLimit.RPS)
	assert.Equal(t, "debug", cfg.Log.Level)
	// untouched defaults survive
	assert.Equal(t, "/glweb/nodes", cfg.Registry.Prefix)
	assert.Equal(t, BalancerConsistentHash, cfg.Balancer)
}

func TestParseRejects(t *testing.T) {
	cases := map[string]string{
		"no endpoint or registry": "endpoint: \"\"\n",
		"discovery without node":  "endpoint: \"\"\nregistry:\n  etcd_endpoints: [localhost:2379]\n",
		"bad balancer":            "balancer: random\n",
		"bad level":               "log:\n  level: loud\n",
		"burst missing":           "rate_limit:\n  rps: 3\n",
		"negative retries":        "retry:\n  max_retries: -1\n",
		"not yaml":                "endpoint: [",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "glweb.yaml")
	require.NoError(t, os.WriteFile(path, []byte("node_id: 02ab\nnetwork: bitcoin\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "02ab", cfg.NodeID)
	assert.Equal(t, "bitcoin", cfg.Network)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

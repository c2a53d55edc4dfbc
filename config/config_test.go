package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseValidDocument(t *testing.T) {
	doc := []byte(`
listeners:
  default:
    type: tcp
    bind: "0.0.0.0:1883"
    max-connections: 100
sys_interval: 10
auth:
  allow-anonymous: true
  plugins: ["anonymous"]
topic-check:
  enabled: true
  acl:
    alice: ["a/#"]
  publish-acl:
    alice: ["a/#"]
rate-limit:
  enabled: true
  per-client-limit: 100
  window-seconds: 1
timeout-disconnect-delay: 5
`)

	cfg, err := Parse(doc)
	require.NoError(t, err)

	require.Contains(t, cfg.Listeners, "default")
	assert.Equal(t, "tcp", cfg.Listeners["default"].Type)
	assert.Equal(t, "0.0.0.0:1883", cfg.Listeners["default"].Bind)
	assert.Equal(t, 100, cfg.Listeners["default"].MaxConnections)

	assert.Equal(t, 10*time.Second, cfg.SysIntervalDuration())
	assert.True(t, cfg.Auth.AllowAnonymous)
	assert.True(t, cfg.TopicCheck.Enabled)
	assert.Equal(t, []string{"a/#"}, cfg.TopicCheck.ACL["alice"])
	assert.True(t, cfg.RateLimit.Enabled)
	assert.Equal(t, time.Second, cfg.RateLimit.WindowDuration())
}

func TestSysIntervalDisabledByDefault(t *testing.T) {
	cfg, err := Parse([]byte(`listeners: {default: {type: tcp, bind: "127.0.0.1:1883"}}`))
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), cfg.SysIntervalDuration())
}

func TestRateLimitWindowDefaultsToOneSecond(t *testing.T) {
	var c RateLimitConfig
	assert.Equal(t, time.Second, c.WindowDuration())
}

func TestValidateRejectsUnknownListenerType(t *testing.T) {
	_, err := Parse([]byte(`listeners: {default: {type: carrier-pigeon, bind: "127.0.0.1:1883"}}`))
	require.Error(t, err)
}

func TestValidateRejectsMissingBind(t *testing.T) {
	_, err := Parse([]byte(`listeners: {default: {type: tcp}}`))
	require.Error(t, err)
}

func TestValidateRequiresCertForTLS(t *testing.T) {
	_, err := Parse([]byte(`listeners: {default: {type: tls, bind: "127.0.0.1:8883"}}`))
	require.Error(t, err)

	_, err = Parse([]byte(`
listeners:
  default:
    type: tls
    bind: "127.0.0.1:8883"
    certfile: cert.pem
    keyfile: key.pem
`))
	require.NoError(t, err)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/to/config.yaml")
	require.Error(t, err)
}

package redis

import (
	"crypto/tls"
	"testing"

	"github.com/peterldowns/testy/assert"
	"github.com/peterldowns/testy/check"
)

func TestOptions(t *testing.T) {
	opts := options(ClientConfig{Addr: "cache:6379", DB: 2, PoolSize: 20, MaxRetries: 3})
	check.Equal(t, "cache:6379", opts.Addr)
	check.Equal(t, 2, opts.DB)
	check.Equal(t, 20, opts.PoolSize)
	check.Equal(t, 3, opts.MaxRetries)
	check.Equal(t, "auctiond", opts.ClientName)
	check.True(t, opts.ContextTimeoutEnabled)
	check.True(t, opts.TLSConfig == nil)

	opts = options(ClientConfig{Addr: "cache:6380", TLSEnabled: true})
	assert.True(t, opts.TLSConfig != nil)
	check.Equal(t, uint16(tls.VersionTLS12), opts.TLSConfig.MinVersion)
}

package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewConfig(t *testing.T) {
	var (
		addr     = "localhost:8080"
		dsn      = "host=localhost user=postgres password=postgres dbname=postgres sslmode=disable"
		redisURL = "redis://localhost:6379/0"
		key      = "c29tZV9zZWNyZXQ="
		orig     = []string{"http://localhost:3000"}
	)

	tcases := []struct {
		name     string
		addr     string
		dsn      string
		redisURL string
		key      string
		orig     []string
		err      bool
	}{
		{
			name:     "valid config",
			addr:     addr,
			dsn:      dsn,
			redisURL: redisURL,
			key:      key,
			orig:     orig,
			err:      false,
		},
		{
			name:     "empty redis url is allowed",
			addr:     addr,
			dsn:      dsn,
			redisURL: "",
			key:      key,
			orig:     orig,
			err:      false,
		},
		{
			name:     "empty address",
			addr:     "",
			dsn:      dsn,
			redisURL: redisURL,
			key:      key,
			orig:     orig,
			err:      true,
		},
		{
			name:     "empty DSN",
			addr:     addr,
			dsn:      "",
			redisURL: redisURL,
			key:      key,
			orig:     orig,
			err:      true,
		},
		{
			name:     "empty signing key",
			addr:     addr,
			dsn:      dsn,
			redisURL: redisURL,
			key:      "",
			orig:     orig,
			err:      true,
		},
		{
			name:     "invalid base64 signing key",
			addr:     addr,
			dsn:      dsn,
			redisURL: redisURL,
			key:      "not_base64!",
			orig:     orig,
			err:      true,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			config, err := NewConfig(tc.addr, tc.dsn, tc.redisURL, tc.key, tc.orig)
			if tc.err {
				assert.Error(t, err, "expected error for config: %s", tc.name)
				return
			}
			assert.NoError(t, err, "expected no error for config: %s", tc.name)

			assert.Equal(t, tc.addr, config.ServerAddr, "expected server address to match")
			assert.Equal(t, tc.dsn, config.DatabaseDSN, "expected database DSN to match")
			assert.Equal(t, tc.redisURL, config.RedisURL, "expected redis URL to match")
			assert.Equal(t, tc.orig, config.AllowedOrigins, "expected allowed origins to match")
			assert.NotEmpty(t, config.SigningKey, "expected signing key to be decoded and not empty")
		})
	}
}

func Test_decodeSigningSecret(t *testing.T) {
	key, err := decodeSigningSecret("c29tZV9zZWNyZXQ=")
	assert.NoError(t, err, "expected no error decoding a valid secret")
	assert.Equal(t, []byte("some_secret"), key, "expected decoded key to match")

	_, err = decodeSigningSecret("invalid_base64")
	assert.Error(t, err, "expected error decoding an invalid secret")
}

package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/noah-isme/ise-timetable-api/pkg/config"
)

func TestOptions(t *testing.T) {
	opts := Options(config.RedisConfig{Host: "cache", Port: 6380, DB: 2, PoolSize: 4, DialTimeout: time.Second})

	assert.Equal(t, "cache:6380", opts.Addr)
	assert.Equal(t, 2, opts.DB)
	assert.Equal(t, 4, opts.PoolSize)
	assert.Equal(t, time.Second, opts.DialTimeout)
	assert.Equal(t, "ise-timetable-api", opts.ClientName)
}

func TestOptionsKeepsLibraryDefaults(t *testing.T) {
	opts := Options(config.RedisConfig{Host: "localhost", Port: 6379})

	assert.Zero(t, opts.PoolSize)
	assert.Zero(t, opts.DialTimeout)
}

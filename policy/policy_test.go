package policy_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/hitboxcache/hitbox/policy"
)

func TestDeadlinesWithStaleWindow(t *testing.T) {
	c := policy.CacheConfig{TTL: 10 * time.Second, StaleTTL: 5 * time.Second}
	now := time.Unix(1000, 0)
	expire, stale := c.Deadlines(now)
	assert.Equal(t, now.Add(15*time.Second), expire)
	assert.Equal(t, now.Add(10*time.Second), stale)
}

func TestDeadlinesWithoutStaleWindow(t *testing.T) {
	c := policy.CacheConfig{TTL: 10 * time.Second}
	now := time.Unix(1000, 0)
	expire, stale := c.Deadlines(now)
	assert.Equal(t, now.Add(10*time.Second), expire)
	assert.True(t, stale.IsZero())
}

func TestDeadlinesZeroTTLMeansNeverExpires(t *testing.T) {
	c := policy.CacheConfig{}
	expire, stale := c.Deadlines(time.Now())
	assert.True(t, expire.IsZero())
	assert.True(t, stale.IsZero())
}

func TestStalePolicyString(t *testing.T) {
	assert.Equal(t, "OffloadRevalidate", policy.OffloadRevalidate.String())
}

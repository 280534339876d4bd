package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ShowtimeCacheConfig defines how showtime lookups against the theatre
// service are cached in Redis.  When Enabled is false or no Redis client is
// configured every lookup goes to the theatre service.  Seat-count updates
// are never cached.
type ShowtimeCacheConfig struct {
	Enabled bool
	TTL     time.Duration
	Prefix  string
}

func setShowtimeCacheDefaults(v *viper.Viper) {
	v.SetDefault("SHOWTIME_CACHE_ENABLED", true)
	v.SetDefault("SHOWTIME_CACHE_TTL", 30*time.Second)
	v.SetDefault("SHOWTIME_CACHE_PREFIX", "showtime")
}

func loadShowtimeCache(v *viper.Viper) ShowtimeCacheConfig {
	c := ShowtimeCacheConfig{
		Enabled: v.GetBool("SHOWTIME_CACHE_ENABLED"),
		TTL:     v.GetDuration("SHOWTIME_CACHE_TTL"),
		Prefix:  strings.TrimSuffix(v.GetString("SHOWTIME_CACHE_PREFIX"), ":"),
	}
	if c.TTL <= 0 {
		c.TTL = 30 * time.Second
	}
	if c.Prefix == "" {
		c.Prefix = "showtime"
	}
	return c
}

package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/iliyamo/cinema-booking-service/internal/config"
	"github.com/iliyamo/cinema-booking-service/internal/model"
)

// TheatreClient talks to the theatre service, which owns showtimes and the
// per-showtime seats_booked counter.
type TheatreClient struct {
	base
	rdb   *redis.Client
	cache config.ShowtimeCacheConfig
	log   *zap.Logger
}

// NewTheatreClient returns a client for baseURL.  Showtime lookups are
// cached in rdb when it is non-nil and the cache is enabled.
func NewTheatreClient(baseURL string, hc *http.Client, rdb *redis.Client, cache config.ShowtimeCacheConfig, log *zap.Logger) *TheatreClient {
	if log == nil {
		log = zap.NewNop()
	}
	return &TheatreClient{base: newBase("theatre", baseURL, hc), rdb: rdb, cache: cache, log: log}
}

func (c *TheatreClient) cacheKey(id uint64) string {
	return c.cache.Prefix + ":" + strconv.FormatUint(id, 10)
}

func (c *TheatreClient) cacheOn() bool { return c.rdb != nil && c.cache.Enabled }

// GetShowtime fetches GET /showtimes/{id}.  A missing showtime yields an
// error matching ErrNotFound.
func (c *TheatreClient) GetShowtime(ctx context.Context, id uint64) (*model.Showtime, error) {
	if c.cacheOn() {
		bs, err := c.rdb.Get(ctx, c.cacheKey(id)).Bytes()
		switch {
		case err == nil:
			var st model.Showtime
			if jerr := json.Unmarshal(bs, &st); jerr == nil {
				return &st, nil
			}
		case !errors.Is(err, redis.Nil):
			c.log.Debug("showtime cache read failed", zap.Uint64("showtime_id", id), zap.Error(err))
		}
	}

	var st model.Showtime
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/showtimes/%d", id), nil, &st); err != nil {
		return nil, err
	}
	if st.ID == 0 {
		st.ID = id
	}

	if c.cacheOn() {
		if bs, err := json.Marshal(st); err == nil {
			if err := c.rdb.Set(ctx, c.cacheKey(id), bs, c.cache.TTL).Err(); err != nil {
				c.log.Debug("showtime cache write failed", zap.Uint64("showtime_id", id), zap.Error(err))
			}
		}
	}
	return &st, nil
}

// AdjustSeats sends POST /showtimes/{id}/seats {"count": delta}.  A positive
// delta books seats, a negative one frees them.  The cached showtime is
// dropped on success since its seats_booked value is now stale.
func (c *TheatreClient) AdjustSeats(ctx context.Context, id uint64, delta int) error {
	body := map[string]int{"count": delta}
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/showtimes/%d/seats", id), body, nil); err != nil {
		return err
	}
	if c.cacheOn() {
		_ = c.rdb.Del(ctx, c.cacheKey(id)).Err()
	}
	return nil
}

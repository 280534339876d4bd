package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/cinema-booking-service/internal/config"
	"github.com/iliyamo/cinema-booking-service/internal/model"
)

func TestTheatreClient_GetShowtime(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/showtimes/7":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"showtime_id":7,"movie_id":3,"screen_id":2,"start_time":"2025-03-01T18:00:00Z","price":12.5}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewTheatreClient(srv.URL+"/", nil, nil, config.ShowtimeCacheConfig{}, nil)

	st, err := c.GetShowtime(context.Background(), 7)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), st.MovieID)
	require.NotNil(t, st.Price)
	assert.Equal(t, model.Cents(1250), *st.Price)
	assert.Equal(t, time.Date(2025, 3, 1, 18, 0, 0, 0, time.UTC), st.StartTime.UTC())

	_, err = c.GetShowtime(context.Background(), 8)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.False(t, Transient(err))
}

func TestTheatreClient_AdjustSeats(t *testing.T) {
	var got map[string]int
	status := http.StatusOK
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/showtimes/1/seats", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(status)
	}))
	defer srv.Close()

	c := NewTheatreClient(srv.URL, nil, nil, config.ShowtimeCacheConfig{}, nil)
	require.NoError(t, c.AdjustSeats(context.Background(), 1, -2))
	assert.Equal(t, map[string]int{"count": -2}, got)

	status = http.StatusConflict
	err := c.AdjustSeats(context.Background(), 1, 2)
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusConflict, se.StatusCode)
	assert.False(t, se.Temporary())

	status = http.StatusBadGateway
	err = c.AdjustSeats(context.Background(), 1, 2)
	assert.True(t, Transient(err))
}

func TestClient_Unavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer srv.Close()

	c := NewUserClient(srv.URL, NewHTTPClient(20*time.Millisecond))
	_, err := c.GetUser(context.Background(), 1)
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.True(t, Transient(err))
}

func TestDirectoryClients(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/users/5":
			_, _ = w.Write([]byte(`{"user_id":5,"email":"ann@example.com"}`))
		case "/movies/3":
			_, _ = w.Write([]byte(`{"movie_id":3,"title":"Heat"}`))
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	u, err := NewUserClient(srv.URL, nil).GetUser(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, "ann@example.com", u.Email)

	m, err := NewMovieClient(srv.URL, nil).GetMovie(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, "Heat", m.Title)

	_, err = NewMovieClient(srv.URL, nil).GetMovie(context.Background(), 4)
	assert.True(t, Transient(err))
	assert.NotErrorIs(t, err, ErrNotFound)
}

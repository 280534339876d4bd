package client

import (
	"context"
	"fmt"
	"net/http"

	"github.com/iliyamo/cinema-booking-service/internal/model"
)

// UserClient reads user records from the user service.
type UserClient struct{ base }

// NewUserClient returns a UserClient for baseURL.
func NewUserClient(baseURL string, hc *http.Client) *UserClient {
	return &UserClient{base: newBase("user", baseURL, hc)}
}

// GetUser fetches GET /users/{id}.
func (c *UserClient) GetUser(ctx context.Context, id uint64) (*model.User, error) {
	var u model.User
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/users/%d", id), nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// MovieClient reads movie records from the movie service.
type MovieClient struct{ base }

// NewMovieClient returns a MovieClient for baseURL.
func NewMovieClient(baseURL string, hc *http.Client) *MovieClient {
	return &MovieClient{base: newBase("movie", baseURL, hc)}
}

// GetMovie fetches GET /movies/{id}.
func (c *MovieClient) GetMovie(ctx context.Context, id uint64) (*model.Movie, error) {
	var m model.Movie
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/movies/%d", id), nil, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/iliyamo/cinema-booking-service/internal/client"
	"github.com/iliyamo/cinema-booking-service/internal/model"
)

// Lookup sources used to enrich a confirmation task.
type (
	UserSource interface {
		GetUser(ctx context.Context, id uint64) (*model.User, error)
	}
	ShowtimeSource interface {
		GetShowtime(ctx context.Context, id uint64) (*model.Showtime, error)
	}
	MovieSource interface {
		GetMovie(ctx context.Context, id uint64) (*model.Movie, error)
	}
)

// Enricher resolves the customer email, the movie title and the showtime
// start for a confirmation task.
type Enricher struct {
	users     UserSource
	showtimes ShowtimeSource
	movies    MovieSource
}

// NewEnricher returns an Enricher over the three services.
func NewEnricher(users UserSource, showtimes ShowtimeSource, movies MovieSource) *Enricher {
	return &Enricher{users: users, showtimes: showtimes, movies: movies}
}

// gapError reports lookups that failed during enrichment.
type gapError struct {
	errs []error
}

func (e *gapError) Error() string { return fmt.Sprintf("enrichment incomplete: %v", errors.Join(e.errs...)) }

func (e *gapError) Unwrap() []error { return e.errs }

// transient reports whether any gap may close on a later attempt.  A lookup
// answered with 404 never will.
func (e *gapError) transient() bool {
	for _, err := range e.errs {
		if client.Transient(err) {
			return true
		}
	}
	return false
}

// Enrich builds the event for task.  The event is always returned, filled
// as far as the lookups allowed; a non-nil *gapError lists what failed.
func (e *Enricher) Enrich(ctx context.Context, task model.ConfirmationTask) (BookingConfirmedEvent, error) {
	ev := newEvent(task)
	var gaps []error

	if u, err := e.users.GetUser(ctx, task.UserID); err != nil {
		gaps = append(gaps, fmt.Errorf("user %d: %w", task.UserID, err))
	} else {
		ev.Email = u.Email
	}

	st, err := e.showtimes.GetShowtime(ctx, task.ShowtimeID)
	if err != nil {
		gaps = append(gaps, fmt.Errorf("showtime %d: %w", task.ShowtimeID, err))
	} else {
		if !st.StartTime.IsZero() {
			ev.Showtime = st.StartTime.UTC().Format(time.RFC3339)
		}
		if m, err := e.movies.GetMovie(ctx, st.MovieID); err != nil {
			gaps = append(gaps, fmt.Errorf("movie %d: %w", st.MovieID, err))
		} else {
			ev.Movie = m.Title
		}
	}

	if len(gaps) > 0 {
		return ev, &gapError{errs: gaps}
	}
	return ev, nil
}

// Package courses lists agronomy courses and submits applications to them.
package courses

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/agrostore/internal/api"
	"github.com/p-blackswan/agrostore/internal/money"
	"github.com/p-blackswan/agrostore/internal/notify"
	"github.com/p-blackswan/agrostore/internal/validate"
)

// Course is one training course.
type Course struct {
	ID          int64       `json:"id"`
	Title       string      `json:"title"`
	Description string      `json:"description,omitempty"`
	StartDate   string      `json:"start_date,omitempty"`
	Duration    string      `json:"duration,omitempty"`
	Format      string      `json:"format,omitempty"`
	Price       money.Money `json:"price"`
	SeatsLeft   int         `json:"seats_left"`
}

// Application is the course sign-up form.
type Application struct {
	CourseID int64  `json:"course" validate:"required,gt=0"`
	FullName string `json:"full_name" validate:"required,max=200"`
	Phone    string `json:"phone" validate:"required,e164"`
	Email    string `json:"email,omitempty" validate:"omitempty,email"`
	Comment  string `json:"comment,omitempty" validate:"max=1000"`
}

// ApplicationResult is the accepted application.
type ApplicationResult struct {
	ID        int64     `json:"id"`
	CourseID  int64     `json:"course"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// Service is the courses API.
type Service struct {
	courses      *api.Resource[Course]
	applications *api.Resource[ApplicationResult]
	validator    *validate.Validator
	notifier     notify.Notifier
	logger       zerolog.Logger
}

// NewService creates the courses API.
func NewService(c *api.Client, n notify.Notifier, logger zerolog.Logger) *Service {
	if n == nil {
		n = notify.Nop{}
	}
	return &Service{
		courses:      api.NewResource[Course](c, "courses"),
		applications: api.NewResource[ApplicationResult](c, "courses/applications"),
		validator:    validate.New(),
		notifier:     n,
		logger:       logger.With().Str("component", "courses").Logger(),
	}
}

// List returns all courses.
func (s *Service) List(ctx context.Context) ([]Course, error) {
	page, err := s.courses.List(ctx, nil)
	if err != nil {
		return nil, err
	}
	return page.Results, nil
}

// Get returns one course.
func (s *Service) Get(ctx context.Context, id int64) (Course, error) {
	return s.courses.Get(ctx, id)
}

// Apply submits an application.
func (s *Service) Apply(ctx context.Context, app Application) (ApplicationResult, error) {
	const op = "courses.apply"
	if err := s.validator.Struct(op, app); err != nil {
		s.notify(ctx, notify.ForError(op, err))
		return ApplicationResult{}, err
	}
	res, err := s.applications.Create(ctx, app)
	if err != nil {
		s.notify(ctx, notify.ForError(op, err))
		return ApplicationResult{}, err
	}
	s.logger.Info().Int64("course", app.CourseID).Int64("application", res.ID).Msg("course application sent")
	s.notify(ctx, notify.Success(op, "Application sent", "We will contact you to confirm your seat."))
	return res, nil
}

func (s *Service) notify(ctx context.Context, n notify.Notification) {
	if err := s.notifier.Notify(ctx, n); err != nil {
		s.logger.Error().Err(err).Msg("failed to deliver notification")
	}
}

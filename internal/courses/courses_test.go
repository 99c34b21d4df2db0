package courses

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/agrostore/internal/api"
	perrors "github.com/p-blackswan/agrostore/internal/errors"
	"github.com/p-blackswan/agrostore/internal/money"
	"github.com/p-blackswan/agrostore/internal/notify"
)

func newTestService(t *testing.T, h http.HandlerFunc) (*Service, *notify.Recorder) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	client := api.NewClient(api.Config{BaseURL: srv.URL, Timeout: time.Second}, nil, nil, zerolog.Nop())
	rec := notify.NewRecorder(5, nil)
	return NewService(client, rec, zerolog.Nop()), rec
}

func TestList(t *testing.T) {
	svc, _ := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/courses/", r.URL.Path)
		_, _ = w.Write([]byte(`[{"id":1,"title":"Soil basics","price":"4500.00","seats_left":12}]`))
	})

	list, err := svc.List(context.Background())
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, money.Money(450000), list[0].Price)
	assert.Equal(t, 12, list[0].SeatsLeft)
}

func TestApply(t *testing.T) {
	svc, rec := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/courses/applications/", r.URL.Path)
		var app Application
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&app))
		assert.Equal(t, int64(1), app.CourseID)
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":31,"course":1,"status":"pending"}`))
	})

	res, err := svc.Apply(context.Background(), Application{CourseID: 1, FullName: "Olga", Phone: "+79990001122"})
	require.NoError(t, err)
	assert.Equal(t, int64(31), res.ID)
	assert.Equal(t, notify.LevelSuccess, rec.Drain()[0].Level)
}

func TestApply_Validation(t *testing.T) {
	var calls atomic.Int32
	svc, rec := newTestService(t, func(w http.ResponseWriter, r *http.Request) { calls.Add(1) })

	_, err := svc.Apply(context.Background(), Application{Email: "x"})
	assert.ErrorIs(t, err, perrors.ErrValidation)
	fields := perrors.FieldErrors(err)
	for _, f := range []string{"course", "full_name", "phone", "email"} {
		assert.Contains(t, fields, f)
	}
	assert.Equal(t, int32(0), calls.Load())
	assert.Equal(t, perrors.KindValidation, rec.Drain()[0].Kind)
}

func TestApply_CourseFull(t *testing.T) {
	svc, rec := newTestService(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"non_field_errors":["No seats left on this course."]}`))
	})

	_, err := svc.Apply(context.Background(), Application{CourseID: 2, FullName: "Olga", Phone: "+79990001122"})
	assert.ErrorIs(t, err, perrors.ErrValidation)
	assert.Equal(t, "No seats left on this course.", rec.Drain()[0].Message)
}

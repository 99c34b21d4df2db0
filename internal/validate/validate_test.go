package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	perrors "github.com/p-blackswan/agrostore/internal/errors"
)

type form struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
	Phone    string `json:"phone,omitempty" validate:"omitempty,e164"`
	Delivery string `json:"delivery_method" validate:"required,oneof=pickup courier post"`
	Quantity int    `json:"quantity" validate:"gte=1,lte=99"`
}

func TestStruct_Valid(t *testing.T) {
	v := New()
	err := v.Struct("checkout", form{Email: "a@b.ru", Password: "longenough", Delivery: "pickup", Quantity: 1})
	assert.NoError(t, err)
}

func TestStruct_FieldErrorsUseJSONNames(t *testing.T) {
	v := New()
	err := v.Struct("account.register", form{Email: "nope", Password: "x", Phone: "123", Delivery: "drone", Quantity: 100})
	require.Error(t, err)
	assert.ErrorIs(t, err, perrors.ErrValidation)

	fields := perrors.FieldErrors(err)
	assert.Equal(t, []string{"Invalid email format"}, fields["email"])
	assert.Equal(t, []string{"Must be at least 8 characters long"}, fields["password"])
	assert.Contains(t, fields, "phone")
	assert.Equal(t, []string{"Must be one of: pickup, courier, post"}, fields["delivery_method"])
	assert.Equal(t, []string{"Must be at most 99"}, fields["quantity"])
}

func TestStruct_Required(t *testing.T) {
	err := New().Struct("account.login", form{Quantity: 1})
	fields := perrors.FieldErrors(err)
	assert.Equal(t, []string{"This field is required"}, fields["email"])
	assert.Equal(t, "account.login", err.(*perrors.Error).Op)
}

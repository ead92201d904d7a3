package validator

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type signupForm struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
	Role     string `json:"role" validate:"omitempty,oneof=acheteur vendeur livreur"`
	Internal string `json:"-"`
}

func TestValidate_Success(t *testing.T) {
	assert.NoError(t, Validate(signupForm{Email: "a@b.com", Password: "longenough"}))
}

func TestValidate_UsesJSONFieldNames(t *testing.T) {
	err := Validate(signupForm{Email: "nope", Password: "short", Role: "pirate"})
	require.Error(t, err)

	var valErr *ValidationError
	require.ErrorAs(t, err, &valErr)
	fields := valErr.Fields()
	assert.Equal(t, "must be a valid email address", fields["email"])
	assert.Equal(t, "must be at least 8 characters", fields["password"])
	assert.Equal(t, "must be one of: acheteur vendeur livreur", fields["role"])
	assert.Contains(t, err.Error(), "field 'email'")
}

func TestValidate_MissingRequired(t *testing.T) {
	err := Validate(signupForm{})

	var valErr *ValidationError
	require.ErrorAs(t, err, &valErr)
	assert.Equal(t, "is required", valErr.Fields()["email"])
	assert.Equal(t, "is required", valErr.Fields()["password"])
}

func TestDecodeAndValidate(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/register",
		strings.NewReader(`{"email":"a@b.com","password":"longenough"}`))

	var form signupForm
	require.NoError(t, DecodeAndValidate(req, &form))
	assert.Equal(t, "a@b.com", form.Email)
}

func TestDecodeAndValidate_BadJSON(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/register", strings.NewReader(`{`))

	var form signupForm
	err := DecodeAndValidate(req, &form)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode request body")
}

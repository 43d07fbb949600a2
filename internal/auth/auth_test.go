package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/danmuck/nodehub/internal/testutil/testlog"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func TestStaticTokenValidate(t *testing.T) {
	testlog.Start(t)
	tests := []struct {
		name    string
		stored  string
		input   string
		wantErr error
	}{
		{name: "empty token denied", stored: "", input: "abc", wantErr: ErrUnauthorized},
		{name: "mismatched token denied", stored: "abc", input: "xyz", wantErr: ErrUnauthorized},
		{name: "matching token accepted", stored: "abc", input: "abc", wantErr: nil},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := (StaticToken{Token: tc.stored}).Validate(tc.input)
			require.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestFuncValidator(t *testing.T) {
	testlog.Start(t)
	validator := FuncValidator(func(token string) error {
		if token != "ok" {
			return ErrUnauthorized
		}
		return nil
	})

	require.ErrorIs(t, validator.Validate("bad"), ErrUnauthorized)
	require.NoError(t, validator.Validate("ok"))
}

func TestBearerToken(t *testing.T) {
	testlog.Start(t)
	token, ok := BearerToken("Bearer s3cret")
	require.True(t, ok)
	require.Equal(t, "s3cret", token)

	token, ok = BearerToken("bearer   padded ")
	require.True(t, ok)
	require.Equal(t, "padded", token)

	for _, bad := range []string{"", "Bearer", "Bearer  ", "Basic abc", "s3cret"} {
		_, ok := BearerToken(bad)
		require.False(t, ok, "header %q", bad)
	}
}

func TestRequire(t *testing.T) {
	testlog.Start(t)
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/guarded", Require(StaticToken{Token: "s3cret"}), func(c *gin.Context) {
		c.String(http.StatusOK, "in")
	})

	cases := []struct {
		header string
		status int
	}{
		{header: "", status: http.StatusUnauthorized},
		{header: "Bearer wrong", status: http.StatusUnauthorized},
		{header: "Bearer s3cret", status: http.StatusOK},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/guarded", nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		require.Equal(t, tc.status, rec.Code, "header %q", tc.header)
	}
}

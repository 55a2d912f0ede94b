package binder_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/clinicbilling/binder"
)

type createRequest struct {
	CustomerID string `json:"customer_id"`
	PlanID     string `json:"plan_id"`
	Immediate  bool   `json:"immediately"`
}

func jsonRequest(body, contentType string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/subscriptions", strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return req
}

func TestJSON(t *testing.T) {
	t.Parallel()

	bind := binder.JSON()

	t.Run("decodes body", func(t *testing.T) {
		t.Parallel()
		var got createRequest
		err := bind(jsonRequest(`{"customer_id":"c1","plan_id":"basic","immediately":true}`, "application/json; charset=utf-8"), &got)
		require.NoError(t, err)
		assert.Equal(t, createRequest{CustomerID: "c1", PlanID: "basic", Immediate: true}, got)
	})

	tests := []struct {
		name        string
		body        string
		contentType string
		wantErr     error
	}{
		{name: "missing content type", body: `{}`, wantErr: binder.ErrMissingContentType},
		{name: "wrong content type", body: `{}`, contentType: "text/plain", wantErr: binder.ErrUnsupportedMediaType},
		{name: "empty body", contentType: "application/json", wantErr: binder.ErrInvalidJSON},
		{name: "syntax error", body: `{"customer_id":`, contentType: "application/json", wantErr: binder.ErrInvalidJSON},
		{name: "unknown field", body: `{"customer":"c1"}`, contentType: "application/json", wantErr: binder.ErrInvalidJSON},
		{name: "wrong type", body: `{"immediately":"yes"}`, contentType: "application/json", wantErr: binder.ErrInvalidJSON},
		{name: "trailing data", body: `{"plan_id":"a"}{"plan_id":"b"}`, contentType: "application/json", wantErr: binder.ErrInvalidJSON},
		{name: "too large", body: `{"plan_id":"` + strings.Repeat("a", binder.DefaultMaxJSONSize) + `"}`, contentType: "application/json", wantErr: binder.ErrInvalidJSON},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var got createRequest
			err := bind(jsonRequest(tt.body, tt.contentType), &got)
			require.ErrorIs(t, err, tt.wantErr)
			assert.True(t, binder.IsBindError(err))
		})
	}
}

type getRequest struct {
	ID      uuid.UUID `path:"id"`
	Include []string  `query:"include"`
	Limit   *int      `query:"limit"`
	Skipped string    `query:"-"`
}

func TestQuery(t *testing.T) {
	t.Parallel()

	t.Run("binds lists and pointers", func(t *testing.T) {
		t.Parallel()
		req := httptest.NewRequest(http.MethodGet, "/?include=retry,history&include=plan&limit=5&skipped=x", nil)
		var got getRequest
		require.NoError(t, binder.Query()(req, &got))
		assert.Equal(t, []string{"retry", "history", "plan"}, got.Include)
		require.NotNil(t, got.Limit)
		assert.Equal(t, 5, *got.Limit)
		assert.Empty(t, got.Skipped)
	})

	t.Run("missing values stay zero", func(t *testing.T) {
		t.Parallel()
		var got getRequest
		require.NoError(t, binder.Query()(httptest.NewRequest(http.MethodGet, "/", nil), &got))
		assert.Nil(t, got.Include)
		assert.Nil(t, got.Limit)
	})

	t.Run("invalid number", func(t *testing.T) {
		t.Parallel()
		var got getRequest
		err := binder.Query()(httptest.NewRequest(http.MethodGet, "/?limit=many", nil), &got)
		assert.ErrorIs(t, err, binder.ErrInvalidQuery)
	})

	t.Run("non pointer target", func(t *testing.T) {
		t.Parallel()
		var got getRequest
		err := binder.Query()(httptest.NewRequest(http.MethodGet, "/", nil), got)
		assert.ErrorIs(t, err, binder.ErrInvalidQuery)
	})
}

func TestPath(t *testing.T) {
	t.Parallel()

	params := func(values map[string]string) func(*http.Request, string) string {
		return func(_ *http.Request, name string) string { return values[name] }
	}
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	t.Run("decodes uuid", func(t *testing.T) {
		t.Parallel()
		id := uuid.New()
		var got getRequest
		require.NoError(t, binder.Path(params(map[string]string{"id": id.String()}))(req, &got))
		assert.Equal(t, id, got.ID)
	})

	t.Run("invalid uuid", func(t *testing.T) {
		t.Parallel()
		var got getRequest
		err := binder.Path(params(map[string]string{"id": "not-a-uuid"}))(req, &got)
		assert.ErrorIs(t, err, binder.ErrInvalidPath)
	})

	t.Run("query tags are ignored", func(t *testing.T) {
		t.Parallel()
		var got getRequest
		require.NoError(t, binder.Path(params(map[string]string{"include": "retry"}))(req, &got))
		assert.Nil(t, got.Include)
	})

	t.Run("nil extractor", func(t *testing.T) {
		t.Parallel()
		var got getRequest
		assert.ErrorIs(t, binder.Path(nil)(req, &got), binder.ErrInvalidPath)
	})
}

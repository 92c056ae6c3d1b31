package httpx

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type info struct {
	Num   int    `json:"num"`
	Title string `json:"title"`
}

func serve(t *testing.T, code int, contentType, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if contentType != "" {
			w.Header().Set("Content-Type", contentType)
		}
		w.WriteHeader(code)
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestReceive_DecodesJSON(t *testing.T) {
	srv := serve(t, http.StatusOK, "application/json", `{"num":614,"title":"Woodpecker"}`)

	var got info
	require.NoError(t, Receive(context.Background(), NewSling(srv.Client(), srv.URL).Get("info.0.json"), &got))
	assert.Equal(t, info{Num: 614, Title: "Woodpecker"}, got)
}

func TestReceive_SuccessNotJSON(t *testing.T) {
	srv := serve(t, http.StatusOK, "text/html", "<html><body>maintenance</body></html>")

	var got info
	err := Receive(context.Background(), NewSling(srv.Client(), srv.URL).Get("info.0.json?access_token=secret"), &got)
	require.Error(t, err)
	assert.ErrorContains(t, err, "decode response")
	assert.NotContains(t, err.Error(), "secret")

	var se *StatusError
	assert.False(t, errors.As(err, &se))
}

func TestReceive_EmptySuccess(t *testing.T) {
	for _, body := range []string{"", "  \n"} {
		srv := serve(t, http.StatusOK, "application/json", body)

		got := info{Num: 1}
		require.NoError(t, Receive(context.Background(), NewSling(srv.Client(), srv.URL).Get("x"), &got))
		assert.Equal(t, info{Num: 1}, got)
	}
}

func TestReceive_NoContent(t *testing.T) {
	srv := serve(t, http.StatusNoContent, "", "")
	got := info{Num: 1}
	require.NoError(t, Receive(context.Background(), NewSling(srv.Client(), srv.URL).Get("x"), &got))
	assert.Equal(t, 1, got.Num)
}

func TestReceive_ErrorStatus(t *testing.T) {
	tests := []struct {
		name        string
		code        int
		contentType string
		body        string
		wantBody    string
	}{
		{"html gateway page", http.StatusBadGateway, "text/html", "<html><h1>502 Bad Gateway</h1></html>\n", "<html><h1>502 Bad Gateway</h1></html>"},
		{"json error", http.StatusUnauthorized, "application/json", `{"error":"invalid_token"}`, `{"error":"invalid_token"}`},
		{"plain text", http.StatusNotFound, "text/plain", "Not Found", "Not Found"},
		{"empty", http.StatusInternalServerError, "text/plain", "", ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := serve(t, tc.code, tc.contentType, tc.body)

			var got info
			err := Receive(context.Background(), NewSling(srv.Client(), srv.URL).Post("method/wall.post?access_token=secret"), &got)
			var se *StatusError
			require.True(t, errors.As(err, &se), "got %v", err)
			assert.Equal(t, tc.code, se.StatusCode)
			assert.Equal(t, http.MethodPost, se.Method)
			assert.Equal(t, srv.URL+"/method/wall.post", se.URL)
			assert.Equal(t, tc.wantBody, se.Body)
			assert.NotContains(t, err.Error(), "secret")
		})
	}
}

func TestReceive_TruncatesErrorBody(t *testing.T) {
	srv := serve(t, http.StatusServiceUnavailable, "text/html", strings.Repeat("x", maxErrBody*3))

	err := Receive(context.Background(), NewSling(srv.Client(), srv.URL).Get("x"), nil)
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Len(t, se.Body, maxErrBody)
}

func TestReceive_Canceled(t *testing.T) {
	srv := serve(t, http.StatusOK, "application/json", `{}`)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Receive(ctx, NewSling(srv.Client(), srv.URL).Get("x"), nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewSling_SetsUserAgent(t *testing.T) {
	var ua string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ua = r.UserAgent()
	}))
	defer srv.Close()

	require.NoError(t, Receive(context.Background(), NewSling(srv.Client(), srv.URL).Get("x"), nil))
	assert.Equal(t, UserAgent, ua)
}

func TestCheckResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/ok" {
			w.Write([]byte("PNG"))
			return
		}
		w.Header().Set("Content-Type", "text/html")
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte(" <h1>Forbidden</h1>" + strings.Repeat("y", maxErrBody)))
	}))
	defer srv.Close()

	resp, err := srv.Client().Get(srv.URL + "/ok")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.NoError(t, CheckResponse(resp))

	resp, err = srv.Client().Get(srv.URL + "/comics/woodpecker.png?sig=abc")
	require.NoError(t, err)
	defer resp.Body.Close()
	err = CheckResponse(resp)
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusForbidden, se.StatusCode)
	assert.Equal(t, http.MethodGet, se.Method)
	assert.Equal(t, srv.URL+"/comics/woodpecker.png", se.URL)
	assert.True(t, strings.HasPrefix(se.Body, "<h1>Forbidden</h1>"))
	assert.LessOrEqual(t, len(se.Body), maxErrBody)
}

func TestStatusError_Error(t *testing.T) {
	e := &StatusError{Method: "GET", URL: "https://xkcd.com/404/info.0.json", StatusCode: 404, Body: "Not Found"}
	assert.Equal(t, "GET https://xkcd.com/404/info.0.json: HTTP 404 Not Found: Not Found", e.Error())

	e.Body = ""
	assert.Equal(t, "GET https://xkcd.com/404/info.0.json: HTTP 404 Not Found", e.Error())
}

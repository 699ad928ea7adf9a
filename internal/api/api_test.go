package api_test

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/require"

	"github.com/evently/eventchat/internal/api"
	"github.com/evently/eventchat/pkg/token"
	"github.com/evently/eventchat/store"
)

var testSecret = []byte("api-test-secret")

type Fixture struct {
	Server *httptest.Server
	Store  store.ChatStore
}

func setUpTestApiServer(t *testing.T) *Fixture {
	t.Helper()

	db, err := sql.Open("sqlite3", "file::memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	goose.SetBaseFS(os.DirFS("../../migrations"))
	require.NoError(t, goose.SetDialect("sqlite3"))
	require.NoError(t, goose.Up(db, "."))

	chatStore := store.NewSQLiteChatStore(db)
	a := api.NewApi(chatStore, api.ApiConfig{
		TokenSecret:    testSecret,
		AllowedOrigins: []string{"*"},
	})

	server := httptest.NewServer(a.Mux())
	t.Cleanup(server.Close)

	return &Fixture{Server: server, Store: chatStore}
}

// ParticipantClient issues requests carrying a participant's bearer token.
type ParticipantClient struct {
	t      *testing.T
	base   string
	token  string
	UserID string
}

func newParticipantClient(t *testing.T, f *Fixture, userID, userName string) *ParticipantClient {
	t.Helper()
	tok, err := token.New(userID, userName, time.Hour, testSecret)
	require.NoError(t, err)
	return &ParticipantClient{t: t, base: f.Server.URL, token: tok, UserID: userID}
}

func (c *ParticipantClient) do(method, path string, payload any) *http.Response {
	c.t.Helper()

	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		require.NoError(c.t, err)
		body = bytes.NewReader(b)
	}

	u, err := url.JoinPath(c.base, path)
	require.NoError(c.t, err)

	req, err := http.NewRequest(method, u, body)
	require.NoError(c.t, err)
	req.Header.Set("Authorization", "Bearer "+c.token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := http.DefaultClient.Do(req)
	require.NoError(c.t, err)
	return res
}

func decodeBody[T any](t *testing.T, res *http.Response) T {
	t.Helper()
	defer res.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(res.Body).Decode(&v))
	return v
}

package mail

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_CreateMailbox(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/generate-email", r.URL.Path)
		require.Equal(t, "test-key", r.Header.Get("X-API-Key"))
		w.Write([]byte(`{"success":true,"data":{"email":"tmp123@mail.example"}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-key", srv.Client(), log.DefaultLogger)
	mbox, err := c.CreateMailbox(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "tmp123@mail.example", mbox.Address)
}

func TestClient_CreateMailbox_Refused(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":false,"message":"quota exceeded"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", srv.Client(), log.DefaultLogger)
	_, err := c.CreateMailbox(context.Background())
	require.Error(t, err)

	var se *ServiceError
	require.True(t, errors.As(err, &se))
	assert.False(t, se.Unreachable())
}

func TestClient_CreateMailbox_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // connection refused from here on

	c := NewClient(srv.URL, "", &http.Client{Timeout: time.Second}, log.DefaultLogger)
	_, err := c.CreateMailbox(context.Background())
	require.Error(t, err)

	var se *ServiceError
	require.True(t, errors.As(err, &se))
	assert.True(t, se.Unreachable())
}

func TestClient_WaitForCode(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/get-emails", r.URL.Path)
		// Empty inbox on the first poll, the code arrives on the second.
		if calls.Add(1) == 1 {
			w.Write([]byte(`{"success":true,"data":[]}`))
			return
		}
		w.Write([]byte(`{"success":true,"data":[{"subject":"hi","body":"your code is 481523"}]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", srv.Client(), log.DefaultLogger)
	c.pollInterval = 10 * time.Millisecond

	code, err := c.WaitForCode(context.Background(), &Mailbox{Address: "a@b.c"})
	require.NoError(t, err)
	assert.Equal(t, "481523", code)
	assert.GreaterOrEqual(t, calls.Load(), int32(2))
}

func TestClient_WaitForCode_ContextExpires(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"success":true,"data":[]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", srv.Client(), log.DefaultLogger)
	c.pollInterval = 10 * time.Millisecond

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.WaitForCode(ctx, &Mailbox{Address: "a@b.c"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

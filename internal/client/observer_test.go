package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"anoa.com/threadforum/internal/entity"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeServer struct {
	authorized  atomic.Bool
	connections atomic.Int32
	authChecks  atomic.Int32

	mu    sync.Mutex
	conns []*websocket.Conn
}

func (s *fakeServer) handler() http.Handler {
	upgrader := websocket.Upgrader{}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/auth/me", func(w http.ResponseWriter, r *http.Request) {
		s.authChecks.Add(1)
		if !s.authorized.Load() || r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/api/ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.connections.Add(1)
		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.mu.Unlock()
	})
	return mux
}

func (s *fakeServer) latest() *websocket.Conn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conns[len(s.conns)-1]
}

func TestObserverAppliesAndReconnects(t *testing.T) {
	fs := &fakeServer{}
	fs.authorized.Store(true)
	srv := httptest.NewServer(fs.handler())
	defer srv.Close()

	r := NewReconciler()
	r.LoadThread("f1", &entity.Thread{ID: "t1", Messages: []*entity.Message{}})
	applied := make(chan Effect, 4)
	o := &Observer{
		BaseURL:    srv.URL,
		Token:      "tok",
		Backoff:    20 * time.Millisecond,
		Reconciler: r,
		OnRecord:   func(_ entity.ChangeRecord, e Effect) { applied <- e },
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()

	require.Eventually(t, func() bool { return fs.connections.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, r.Authenticated())

	record, err := entity.NewChangeRecord(entity.ActionAdd, entity.EntityMessage,
		&entity.Message{ID: "m1", Body: "hello", Likes: []string{}, Replies: []*entity.Message{}},
		&entity.Source{ParentID: "t1", ThreadID: "t1"})
	require.NoError(t, err)
	require.NoError(t, fs.latest().WriteJSON(record))

	select {
	case e := <-applied:
		assert.True(t, e.Applied)
	case <-time.After(2 * time.Second):
		t.Fatal("record was not applied")
	}
	thread, _ := r.Thread("t1")
	require.Len(t, thread.Messages, 1)

	fs.latest().Close()
	require.Eventually(t, func() bool { return fs.connections.Load() == 2 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestObserverWaitsForAuthentication(t *testing.T) {
	fs := &fakeServer{}
	srv := httptest.NewServer(fs.handler())
	defer srv.Close()

	o := &Observer{BaseURL: srv.URL, Token: "tok", Backoff: 10 * time.Millisecond}
	assert.ErrorIs(t, o.CheckAuth(context.Background()), ErrUnauthenticated)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()

	require.Eventually(t, func() bool { return fs.authChecks.Load() >= 3 }, 2*time.Second, 5*time.Millisecond)
	assert.Zero(t, fs.connections.Load(), "never connects while unauthenticated")

	fs.authorized.Store(true)
	require.Eventually(t, func() bool { return fs.connections.Load() == 1 }, 2*time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestObserverDropsConnectionWhenSessionEnds(t *testing.T) {
	fs := &fakeServer{}
	fs.authorized.Store(true)
	srv := httptest.NewServer(fs.handler())
	defer srv.Close()

	o := &Observer{BaseURL: srv.URL, Token: "tok", Backoff: time.Hour, Reconciler: NewReconciler()}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = o.Run(ctx) }()

	require.Eventually(t, func() bool { return fs.connections.Load() == 1 }, 2*time.Second, 5*time.Millisecond)
	record, err := entity.NewChangeRecord(entity.ActionError, entity.EntityAuthentication, entity.ErrorPayload{Error: "bye"}, nil)
	require.NoError(t, err)
	conn := fs.latest()
	require.NoError(t, conn.WriteJSON(record))

	require.Eventually(t, func() bool { return !o.Reconciler.Authenticated() }, 2*time.Second, 5*time.Millisecond)
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err, "client closed the connection")
}

func TestPrimeLoadsOwningForumAndThread(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/forums", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":[{"id":"f1","name":"General","threadCount":0},{"id":"f2","name":"Other","threadCount":1}]}`))
	})
	mux.HandleFunc("/api/forums/f1", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"f1","name":"General","threads":[]}`))
	})
	mux.HandleFunc("/api/forums/f2", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"f2","name":"Other","threads":[{"id":"t1","title":"Welcome","active":true}]}`))
	})
	mux.HandleFunc("/api/threads/t1", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"t1","title":"Welcome","active":true,"messages":[{"id":"m1","body":"Hello","likes":[],"replies":[]}]}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	o := &Observer{BaseURL: srv.URL, Token: "tok"}
	require.NoError(t, o.Prime(context.Background(), "t1"))

	assert.Equal(t, Focus{ForumID: "f2", ThreadID: "t1"}, o.Reconciler.Focus())
	thread, ok := o.Reconciler.Thread("t1")
	require.True(t, ok)
	require.Len(t, thread.Messages, 1)
	assert.Len(t, o.Reconciler.Forums(), 2)

	assert.Error(t, o.Prime(context.Background(), "missing"))
}

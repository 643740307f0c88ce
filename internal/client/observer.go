package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"anoa.com/threadforum/internal/entity"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var (
	ErrUnauthenticated = errors.New("session is not authenticated")
	errSessionEnded    = errors.New("server ended the session")
)

const DefaultBackoff = 5 * time.Second

// Observer keeps a live connection to the change stream and feeds every
// record into its Reconciler. There is no replay: records emitted while the
// connection is down are never seen.
type Observer struct {
	BaseURL    string
	Token      string
	Backoff    time.Duration
	Reconciler *Reconciler
	Logger     *zap.Logger
	// OnRecord, if set, is called after each record is applied.
	OnRecord func(entity.ChangeRecord, Effect)

	Dialer     *websocket.Dialer
	HTTPClient *http.Client
}

func (o *Observer) defaults() {
	if o.Backoff <= 0 {
		o.Backoff = DefaultBackoff
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.Reconciler == nil {
		o.Reconciler = NewReconciler()
	}
	if o.Dialer == nil {
		o.Dialer = websocket.DefaultDialer
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
}

// Run connects and reconnects until ctx is cancelled. Each attempt first
// confirms the session through /api/auth/me; failures are logged and retried
// after a fixed backoff, indefinitely.
func (o *Observer) Run(ctx context.Context) error {
	o.defaults()

	for {
		err := o.CheckAuth(ctx)
		if err == nil {
			err = o.stream(ctx)
		}
		if ctx.Err() != nil {
			return nil
		}
		o.Logger.Warn("observer disconnected, retrying",
			zap.Duration("backoff", o.Backoff), zap.Error(err))

		timer := time.NewTimer(o.Backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

// CheckAuth asks the server whether the token is still accepted.
func (o *Observer) CheckAuth(ctx context.Context) error {
	o.defaults()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(o.BaseURL, "/")+"/api/auth/me", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+o.Token)

	resp, err := o.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("auth check: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		o.Reconciler.SetAuthenticated(true)
		return nil
	case resp.StatusCode == http.StatusUnauthorized:
		o.Reconciler.SetAuthenticated(false)
		return ErrUnauthenticated
	default:
		return fmt.Errorf("auth check: unexpected status %d", resp.StatusCode)
	}
}

func (o *Observer) wsURL() (string, error) {
	u, err := url.Parse(strings.TrimRight(o.BaseURL, "/") + "/api/ws")
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	return u.String(), nil
}

func (o *Observer) stream(ctx context.Context) error {
	target, err := o.wsURL()
	if err != nil {
		return err
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+o.Token)
	conn, _, err := o.Dialer.DialContext(ctx, target, header)
	if err != nil {
		return fmt.Errorf("dial %s: %w", target, err)
	}
	defer conn.Close()

	o.Logger.Info("observer connected", zap.String("url", target))

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	for {
		var record entity.ChangeRecord
		if err := conn.ReadJSON(&record); err != nil {
			return fmt.Errorf("read: %w", err)
		}

		effect, err := o.Reconciler.Apply(record)
		if err != nil {
			o.Logger.Warn("record not applied", zap.String("action", string(record.Action)), zap.Error(err))
			continue
		}
		if o.OnRecord != nil {
			o.OnRecord(record, effect)
		}
		if effect.SessionEnded {
			return errSessionEnded
		}
	}
}

package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"golang.org/x/oauth2"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := gorm.Open(gormsqlite.Open("file:"+name+"?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// fakeTokenServer mimics the provider token endpoint.
func fakeTokenServer(t *testing.T, hits *int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits != nil {
			atomic.AddInt32(hits, 1)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		writeJSON := func(status int, v any) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(status)
			_ = json.NewEncoder(w).Encode(v)
		}

		switch r.Form.Get("grant_type") {
		case "authorization_code":
			switch r.Form.Get("code") {
			case "bad":
				writeJSON(http.StatusBadRequest, map[string]string{"error": "invalid_grant"})
			case "norefresh":
				writeJSON(http.StatusOK, map[string]any{"access_token": "at", "token_type": "Bearer", "expires_in": 3600})
			default:
				writeJSON(http.StatusOK, map[string]any{
					"access_token":  "at",
					"refresh_token": "rt",
					"token_type":    "Bearer",
					"expires_in":    3600,
					"scope":         "calendar",
				})
			}
		case "refresh_token":
			switch r.Form.Get("refresh_token") {
			case "revoked":
				writeJSON(http.StatusBadRequest, map[string]string{"error": "invalid_grant", "error_description": "Token has been expired or revoked."})
			case "down":
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte("try later"))
			case "rotate":
				writeJSON(http.StatusOK, map[string]any{"access_token": "at2", "refresh_token": "rt2", "token_type": "Bearer", "expires_in": 3600})
			default:
				writeJSON(http.StatusOK, map[string]any{"access_token": "at2", "token_type": "Bearer", "expires_in": 3600})
			}
		default:
			w.WriteHeader(http.StatusBadRequest)
		}
	}))
}

func newTestClient(t *testing.T, srv *httptest.Server) *Client {
	t.Helper()
	return NewClient(ClientConfig{
		ClientID:     "cid",
		ClientSecret: "secret",
		RedirectURI:  "http://localhost:3000/oauth/redirect",
		Endpoint: &oauth2.Endpoint{
			AuthURL:   srv.URL + "/auth",
			TokenURL:  srv.URL + "/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}, NewMemoryGrants(), nil)
}

func ptr[T any](v T) *T { return &v }

func TestRecord_ExpiredAt(t *testing.T) {
	now := time.Now()
	if !(Record{}).ExpiredAt(now) {
		t.Fatalf("record without expiry must be expired")
	}
	if !(Record{ExpiryDate: ptr(now.UnixMilli())}).ExpiredAt(now) {
		t.Fatalf("expiry equal to now must be expired")
	}
	if (Record{ExpiryDate: ptr(now.Add(time.Minute).UnixMilli())}).ExpiredAt(now) {
		t.Fatalf("future expiry must not be expired")
	}
}

func TestStore_RoundTripAndOverwrite(t *testing.T) {
	s := NewStore(openTestDB(t))
	ctx := context.Background()

	if _, err := s.Get(ctx, "u1"); !errors.Is(err, ErrTokensNotFound) {
		t.Fatalf("expected ErrTokensNotFound, got %v", err)
	}

	exp := time.Now().Add(time.Hour).UnixMilli()
	in := Tokens{AccessToken: "a", RefreshToken: "r", Scope: "s", TokenType: "Bearer", ExpiryDate: &exp}
	if err := s.Store(ctx, "u1", in); err != nil {
		t.Fatalf("store: %v", err)
	}
	got, err := s.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.AccessToken != "a" || got.RefreshToken != "r" || got.Scope != "s" || got.TokenType != "Bearer" {
		t.Fatalf("unexpected record: %+v", got)
	}
	if got.ExpiryDate == nil || *got.ExpiryDate != exp {
		t.Fatalf("unexpected expiry: %v", got.ExpiryDate)
	}
	created := got.CreatedAt

	if err := s.Store(ctx, "u1", Tokens{AccessToken: "b", RefreshToken: "r2"}); err != nil {
		t.Fatalf("overwrite: %v", err)
	}
	got, _ = s.Get(ctx, "u1")
	if got.AccessToken != "b" || got.RefreshToken != "r2" || got.ExpiryDate != nil {
		t.Fatalf("overwrite not applied: %+v", got)
	}
	if !got.CreatedAt.Equal(created) {
		t.Fatalf("created_at changed on overwrite")
	}
}

func TestStore_UpdateMergesFields(t *testing.T) {
	s := NewStore(openTestDB(t))
	ctx := context.Background()

	if err := s.Update(ctx, "ghost", TokenUpdate{AccessToken: ptr("x")}); !errors.Is(err, ErrTokensNotFound) {
		t.Fatalf("expected ErrTokensNotFound, got %v", err)
	}

	if err := s.Store(ctx, "u1", Tokens{AccessToken: "a", RefreshToken: "r", Scope: "s"}); err != nil {
		t.Fatalf("store: %v", err)
	}
	before, _ := s.Get(ctx, "u1")

	exp := time.Now().Add(time.Hour).UnixMilli()
	if err := s.Update(ctx, "u1", TokenUpdate{AccessToken: ptr("a2"), ExpiryDate: &exp}); err != nil {
		t.Fatalf("update: %v", err)
	}
	got, _ := s.Get(ctx, "u1")
	if got.AccessToken != "a2" || got.RefreshToken != "r" || got.Scope != "s" {
		t.Fatalf("unexpected merge: %+v", got)
	}
	if got.ExpiryDate == nil || *got.ExpiryDate != exp {
		t.Fatalf("expiry not updated")
	}
	if got.UpdatedAt.Before(before.UpdatedAt) {
		t.Fatalf("updated_at went backwards")
	}
}

func TestStore_DisconnectKeepsRow(t *testing.T) {
	s := NewStore(openTestDB(t))
	ctx := context.Background()

	exp := time.Now().Add(time.Hour).UnixMilli()
	if err := s.Store(ctx, "u1", Tokens{AccessToken: "a", RefreshToken: "r", ExpiryDate: &exp}); err != nil {
		t.Fatalf("store: %v", err)
	}
	if err := s.Disconnect(ctx, "u1"); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	got, err := s.Get(ctx, "u1")
	if err != nil {
		t.Fatalf("row should remain: %v", err)
	}
	if got.Connected() || got.ExpiryDate != nil {
		t.Fatalf("credentials not cleared: %+v", got)
	}
}

func TestClient_AuthURL(t *testing.T) {
	c := NewClient(ClientConfig{ClientID: "cid", RedirectURI: "http://localhost:3000/oauth/redirect"}, nil, nil)

	u, err := url.Parse(c.AuthURL(""))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	q := u.Query()
	if q.Get("state") != DefaultState {
		t.Fatalf("expected default state, got %q", q.Get("state"))
	}
	if q.Get("access_type") != "offline" || q.Get("prompt") != "consent" {
		t.Fatalf("missing offline/consent: %s", u.RawQuery)
	}
	if q.Get("redirect_uri") != "http://localhost:3000/oauth/redirect" || q.Get("client_id") != "cid" {
		t.Fatalf("unexpected client params: %s", u.RawQuery)
	}
	for _, scope := range Scopes {
		if !strings.Contains(q.Get("scope"), scope) {
			t.Fatalf("scope %s missing", scope)
		}
	}
}

func TestClient_ExchangeIsSingleUse(t *testing.T) {
	var hits int32
	srv := fakeTokenServer(t, &hits)
	defer srv.Close()
	c := newTestClient(t, srv)
	ctx := context.Background()

	tok, err := c.Exchange(ctx, "good")
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}
	if tok.AccessToken != "at" || tok.RefreshToken != "rt" || tok.Scope != "calendar" || tok.ExpiryDate == nil {
		t.Fatalf("unexpected tokens: %+v", tok)
	}

	if _, err := c.Exchange(ctx, "good"); !errors.Is(err, ErrInvalidGrant) {
		t.Fatalf("expected ErrInvalidGrant on reuse, got %v", err)
	}
	if atomic.LoadInt32(&hits) != 1 {
		t.Fatalf("reused code must not reach the provider, hits=%d", hits)
	}
}

func TestClient_ExchangeErrors(t *testing.T) {
	srv := fakeTokenServer(t, nil)
	defer srv.Close()
	c := newTestClient(t, srv)
	ctx := context.Background()

	if _, err := c.Exchange(ctx, " "); !errors.Is(err, ErrMissingCode) {
		t.Fatalf("expected ErrMissingCode, got %v", err)
	}
	if _, err := c.Exchange(ctx, "bad"); !errors.Is(err, ErrInvalidGrant) {
		t.Fatalf("expected ErrInvalidGrant, got %v", err)
	}
	if _, err := c.Exchange(ctx, "norefresh"); !errors.Is(err, ErrNoRefreshToken) {
		t.Fatalf("expected ErrNoRefreshToken, got %v", err)
	}
}

func TestClient_ExchangeRetryAfterProviderFailure(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("try later"))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token":  "at",
			"refresh_token": "rt",
			"token_type":    "Bearer",
			"expires_in":    3600,
		})
	}))
	defer srv.Close()
	c := newTestClient(t, srv)
	ctx := context.Background()

	if _, err := c.Exchange(ctx, "code-1"); !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("expected ErrProviderUnavailable, got %v", err)
	}
	tok, err := c.Exchange(ctx, "code-1")
	if err != nil {
		t.Fatalf("retry after transient failure: %v", err)
	}
	if tok.RefreshToken != "rt" {
		t.Fatalf("unexpected tokens: %+v", tok)
	}
	if _, err := c.Exchange(ctx, "code-1"); !errors.Is(err, ErrInvalidGrant) {
		t.Fatalf("redeemed code must stay claimed, got %v", err)
	}
	if got := atomic.LoadInt32(&hits); got != 2 {
		t.Fatalf("expected 2 provider calls, got %d", got)
	}
}

func TestClient_Refresh(t *testing.T) {
	srv := fakeTokenServer(t, nil)
	defer srv.Close()
	c := newTestClient(t, srv)
	ctx := context.Background()

	tok, err := c.Refresh(ctx, "rt")
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if tok.AccessToken != "at2" || tok.RefreshToken != "rt" {
		t.Fatalf("unexpected refresh result: %+v", tok)
	}

	if _, err := c.Refresh(ctx, "revoked"); !errors.Is(err, ErrReauthorizationRequired) {
		t.Fatalf("expected ErrReauthorizationRequired, got %v", err)
	}
	if _, err := c.Refresh(ctx, "down"); !errors.Is(err, ErrProviderUnavailable) {
		t.Fatalf("expected ErrProviderUnavailable, got %v", err)
	}
}

func TestIsPermanentGrantError(t *testing.T) {
	tests := []struct {
		errText   string
		permanent bool
	}{
		{errText: "oauth2: \"invalid_grant\"", permanent: true},
		{errText: "Token has been expired or revoked.", permanent: true},
		{errText: "unauthorized_client", permanent: true},
		{errText: "dial tcp: connection refused", permanent: false},
		{errText: "500 internal error", permanent: false},
	}
	for _, tt := range tests {
		if got := isPermanentGrantError(errors.New(tt.errText)); got != tt.permanent {
			t.Fatalf("%q: expected %v, got %v", tt.errText, tt.permanent, got)
		}
	}
}

func TestManager_Fresh(t *testing.T) {
	srv := fakeTokenServer(t, nil)
	defer srv.Close()
	store := NewStore(openTestDB(t))
	m := NewManager(store, newTestClient(t, srv), nil)
	ctx := context.Background()

	if _, err := m.Fresh(ctx, "nobody"); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}

	future := time.Now().Add(time.Hour).UnixMilli()
	if err := store.Store(ctx, "valid", Tokens{AccessToken: "a", RefreshToken: "r", ExpiryDate: &future}); err != nil {
		t.Fatalf("store: %v", err)
	}
	rec, err := m.Fresh(ctx, "valid")
	if err != nil || rec.AccessToken != "a" {
		t.Fatalf("expected stored token without refresh, got %+v / %v", rec, err)
	}

	past := time.Now().Add(-time.Minute).UnixMilli()
	if err := store.Store(ctx, "stale", Tokens{AccessToken: "old", RefreshToken: "rotate", ExpiryDate: &past}); err != nil {
		t.Fatalf("store: %v", err)
	}
	rec, err = m.Fresh(ctx, "stale")
	if err != nil {
		t.Fatalf("fresh: %v", err)
	}
	if rec.AccessToken != "at2" || rec.RefreshToken != "rt2" || rec.ExpiredAt(time.Now()) {
		t.Fatalf("unexpected refreshed record: %+v", rec)
	}
	stored, _ := store.Get(ctx, "stale")
	if stored.AccessToken != "at2" || stored.RefreshToken != "rt2" {
		t.Fatalf("refresh not persisted: %+v", stored)
	}

	if err := store.Store(ctx, "revoked", Tokens{AccessToken: "old", RefreshToken: "revoked"}); err != nil {
		t.Fatalf("store: %v", err)
	}
	if _, err := m.Fresh(ctx, "revoked"); !errors.Is(err, ErrReauthorizationRequired) {
		t.Fatalf("expected ErrReauthorizationRequired, got %v", err)
	}

	if err := m.Disconnect(ctx, "valid"); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	if _, err := m.Fresh(ctx, "valid"); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected after disconnect, got %v", err)
	}
	st, err := m.Status(ctx, "valid")
	if err != nil || st.Connected {
		t.Fatalf("expected disconnected status, got %+v / %v", st, err)
	}
}

func TestMemoryGrants(t *testing.T) {
	g := NewMemoryGrants()
	ctx := context.Background()

	if err := g.SaveState(ctx, "s1", "u1", time.Minute); err != nil {
		t.Fatalf("save state: %v", err)
	}
	uid, err := g.ConsumeState(ctx, "s1")
	if err != nil || uid != "u1" {
		t.Fatalf("consume: %q %v", uid, err)
	}
	if _, err := g.ConsumeState(ctx, "s1"); !errors.Is(err, ErrUnknownState) {
		t.Fatalf("state must be single use, got %v", err)
	}

	ok, _ := g.ClaimCode(ctx, "c", time.Minute)
	again, _ := g.ClaimCode(ctx, "c", time.Minute)
	if !ok || again {
		t.Fatalf("expected first claim to win only: %v %v", ok, again)
	}

	now := time.Now()
	g.now = func() time.Time { return now.Add(2 * time.Minute) }
	if ok, _ := g.ClaimCode(ctx, "c", time.Minute); !ok {
		t.Fatalf("expired claim should be reusable")
	}
}

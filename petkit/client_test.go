package petkit

import (
	"context"
	"errors"
	"net/http"
	"testing"
)

func TestMapAPIError(t *testing.T) {
	tests := []struct {
		code int
		want any
	}{
		{122, AuthError{}},
		{5, AuthError{}},
		{1, ServerError{}},
		{99, ServerError{}},
		{3003, BluetoothError{}},
		{424242, APIError{}},
	}
	for _, tc := range tests {
		err := mapAPIError(tc.code, "boom")
		var matched bool
		switch tc.want.(type) {
		case AuthError:
			var target AuthError
			matched = errors.As(err, &target) && target.Code == tc.code
		case ServerError:
			var target ServerError
			matched = errors.As(err, &target) && target.Code == tc.code
		case BluetoothError:
			var target BluetoothError
			matched = errors.As(err, &target) && target.Code == tc.code
		case APIError:
			var target APIError
			matched = errors.As(err, &target) && target.Code == tc.code
		}
		if !matched {
			t.Fatalf("code %d: got %T (%v), want %T", tc.code, err, err, tc.want)
		}
	}
}

func TestLoginFlow(t *testing.T) {
	f := newFakeAPI(t)
	f.handle(epRegionServers, func(w http.ResponseWriter, r *http.Request) {
		writeResult(w, map[string]any{"list": []map[string]any{
			{"id": "DE", "gateway": "http://eu.example.test/latest/"},
		}})
	})
	f.handle(epLogin, func(w http.ResponseWriter, r *http.Request) {
		// MD5 of "secret"; credentials never travel in the clear.
		if got := r.Form.Get("password"); got != "5ebe2294ecd0e0f08eab7690d2a6ee69" {
			t.Fatalf("password = %s, want md5 digest", got)
		}
		if got := r.Form.Get("username"); got != "user@example.com" {
			t.Fatalf("username = %s", got)
		}
		writeResult(w, map[string]any{
			"session": map[string]any{"id": "session-token", "userId": "42", "expiresIn": 3600},
			"user":    map[string]any{"account": map[string]any{"region": "DE"}},
		})
	})

	c, _ := newTestClient(t, f)
	c.token = ""

	if err := c.Login(context.Background()); err != nil {
		t.Fatalf("login: %v", err)
	}
	if c.token != "session-token" || c.userID != "42" {
		t.Fatalf("session = %s/%s", c.token, c.userID)
	}
}

func TestLoginResolvesGateway(t *testing.T) {
	servers := []regionServer{{ID: "DE", Gateway: "http://eu.example.test/latest/"}}

	if got := resolveGateway(servers, "DE"); got != "http://eu.example.test/latest" {
		t.Fatalf("matched region gateway = %s", got)
	}
	if got := resolveGateway(servers, "JP"); got != asiaGateway {
		t.Fatalf("asia fallback = %s, want %s", got, asiaGateway)
	}
	if got := resolveGateway(servers, "US"); got != defaultLoginURL {
		t.Fatalf("default gateway = %s, want %s", got, defaultLoginURL)
	}
}

func TestEnsureSessionReusesToken(t *testing.T) {
	f := newFakeAPI(t)
	f.handle(epDeviceRoster, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Session") != "test-session" {
			t.Fatalf("missing session header")
		}
		writeResult(w, rosterResponse(false))
	})

	c, _ := newTestClient(t, f)
	if _, err := c.deviceRoster(context.Background()); err != nil {
		t.Fatalf("roster: %v", err)
	}
	if got := f.callCount(epLogin); got != 0 {
		t.Fatalf("login calls = %d, want 0 with a valid token", got)
	}
}

func TestAPIErrorEnvelope(t *testing.T) {
	f := newFakeAPI(t)
	f.handle(epDeviceRoster, func(w http.ResponseWriter, r *http.Request) {
		writeAPIError(w, 122, "bad credentials")
	})

	c, _ := newTestClient(t, f)
	_, err := c.deviceRoster(context.Background())
	var authErr AuthError
	if !errors.As(err, &authErr) || authErr.Code != 122 {
		t.Fatalf("expected AuthError 122, got %v", err)
	}
}

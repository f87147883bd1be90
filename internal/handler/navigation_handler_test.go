package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/supply/internal/guard"
	"github.com/hitoshi/supply/internal/identity"
	"github.com/hitoshi/supply/internal/middleware"
	"github.com/hitoshi/supply/internal/model"
	"github.com/hitoshi/supply/internal/route"
)

func mustTable(t *testing.T) *route.Table {
	t.Helper()
	table, err := route.DefaultTable()
	if err != nil {
		t.Fatalf("DefaultTable: %v", err)
	}
	return table
}

func TestNavigationHandler_Routes(t *testing.T) {
	h := NewNavigationHandler(mustTable(t), nil, nil)

	w := httptest.NewRecorder()
	h.Routes(w, httptest.NewRequest(http.MethodGet, "/api/routes", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var body struct {
		Routes []struct {
			Path string          `json:"path"`
			Name string          `json:"name"`
			Meta map[string]bool `json:"meta"`
		} `json:"routes"`
	}
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Routes) != len(route.Storefront()) {
		t.Fatalf("routes = %d, want %d", len(body.Routes), len(route.Storefront()))
	}
	for _, r := range body.Routes {
		if r.Path == route.PathAdmin && !r.Meta["onlyMe"] {
			t.Errorf("admin meta = %v, want onlyMe", r.Meta)
		}
		if r.Path == route.PathRestock && !r.Meta["requiresAuth"] {
			t.Errorf("restock meta = %v, want requiresAuth", r.Meta)
		}
	}
}

func TestNavigationHandler_Navigate(t *testing.T) {
	var got guard.NavigationRequest
	var gotKey string
	nav := &mockNavigator{
		navigateFn: func(ctx context.Context, clientKey string, req guard.NavigationRequest) (guard.Decision, error) {
			got, gotKey = req, clientKey
			return guard.Decision{Outcome: guard.RedirectLogin, Redirect: route.PathLogin, Warning: guard.WarningLoginRequired}, nil
		},
	}
	h := NewNavigationHandler(mustTable(t), nav, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/navigate", strings.NewReader(`{"to":"/restock","from":"/"}`))
	req = req.WithContext(middleware.ContextWithCredential(req.Context(), identity.Credential{SessionID: "s1"}))
	w := httptest.NewRecorder()

	h.Navigate(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if got.Target.Name != route.NameRestock || got.Source.Name != route.NameHome {
		t.Errorf("request = %+v", got)
	}
	if got.Credential.SessionID != "s1" || gotKey != "session:s1" {
		t.Errorf("credential = %+v, key = %q", got.Credential, gotKey)
	}

	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["outcome"] != "redirect_login" || body["redirect"] != "/login" || body["warning"] != guard.WarningLoginRequired {
		t.Errorf("body = %v", body)
	}
	if w.Header().Get(middleware.NavigationWarningHeader) != guard.WarningLoginRequired {
		t.Error("warning header should be set")
	}
}

func TestNavigationHandler_Navigate_ProceedOmitsRedirect(t *testing.T) {
	nav := &mockNavigator{
		navigateFn: func(ctx context.Context, clientKey string, req guard.NavigationRequest) (guard.Decision, error) {
			return guard.Decision{Outcome: guard.Proceed}, nil
		},
	}
	w := httptest.NewRecorder()
	NewNavigationHandler(mustTable(t), nav, nil).Navigate(w, httptest.NewRequest(http.MethodPost, "/api/navigate", strings.NewReader(`{"to":"/"}`)))

	var body map[string]any
	json.NewDecoder(w.Body).Decode(&body)
	if body["outcome"] != "proceed" {
		t.Errorf("outcome = %v", body["outcome"])
	}
	if _, ok := body["redirect"]; ok {
		t.Error("redirect should be omitted for proceed")
	}
}

func TestNavigationHandler_Navigate_UnknownRoute_DoesNotRunGuard(t *testing.T) {
	nav := &mockNavigator{
		navigateFn: func(ctx context.Context, clientKey string, req guard.NavigationRequest) (guard.Decision, error) {
			t.Fatal("guard must not run for an unknown route")
			return guard.Decision{}, nil
		},
	}
	w := httptest.NewRecorder()
	NewNavigationHandler(mustTable(t), nav, nil).Navigate(w, httptest.NewRequest(http.MethodPost, "/api/navigate", strings.NewReader(`{"to":"/nowhere"}`)))

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	var body middleware.ErrorResponseBody
	json.NewDecoder(w.Body).Decode(&body)
	if body.Code != model.ErrCodeUnknownRoute {
		t.Errorf("code = %q", body.Code)
	}
}

func TestNavigationHandler_Navigate_BadRequest(t *testing.T) {
	for _, body := range []string{`{`, `{"from":"/"}`} {
		w := httptest.NewRecorder()
		NewNavigationHandler(mustTable(t), nil, nil).Navigate(w, httptest.NewRequest(http.MethodPost, "/api/navigate", strings.NewReader(body)))
		if w.Code != http.StatusBadRequest {
			t.Errorf("body %q: status = %d, want 400", body, w.Code)
		}
	}
}

func TestNavigationHandler_Navigate_Superseded(t *testing.T) {
	rec := &mockRecorder{}
	nav := &mockNavigator{
		navigateFn: func(ctx context.Context, clientKey string, req guard.NavigationRequest) (guard.Decision, error) {
			return guard.Decision{Outcome: guard.RedirectLogin}, guard.ErrSuperseded
		},
	}
	w := httptest.NewRecorder()
	NewNavigationHandler(mustTable(t), nav, rec).Navigate(w, httptest.NewRequest(http.MethodPost, "/api/navigate", strings.NewReader(`{"to":"/admin"}`)))

	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d, want 409", w.Code)
	}
	var body middleware.ErrorResponseBody
	json.NewDecoder(w.Body).Decode(&body)
	if body.Code != model.ErrCodeNavigationSuperseded {
		t.Errorf("code = %q", body.Code)
	}
	if rec.superseded != 1 {
		t.Errorf("superseded recorded = %d, want 1", rec.superseded)
	}
}

// gatedProvider は release が閉じられるまで通知を保留するIDプロバイダー。
type gatedProvider struct {
	started chan struct{}
	release chan struct{}
}

func (p *gatedProvider) Subscribe(ctx context.Context, cred identity.Credential, onChange func(*identity.Identity), onError func(error)) func() {
	go func() {
		p.started <- struct{}{}
		select {
		case <-p.release:
			onChange(nil)
		case <-ctx.Done():
			onError(ctx.Err())
		}
	}()
	return func() {}
}

func TestNavigationHandler_Navigate_AnonymousClientsSharingIPAreIndependent(t *testing.T) {
	provider := &gatedProvider{started: make(chan struct{}, 2), release: make(chan struct{})}
	g, err := guard.New(guard.Config{AdminUID: "admin-uid", IdentityTimeout: 2 * time.Second}, provider, nil, nil)
	if err != nil {
		t.Fatalf("guard.New: %v", err)
	}
	rec := &mockRecorder{}
	h := NewNavigationHandler(mustTable(t), guard.NewNavigator(g), rec)

	codes := make([]int, 2)
	var wg sync.WaitGroup
	for i, addr := range []string{"10.0.0.1:1111", "10.0.0.1:2222"} {
		wg.Add(1)
		go func(i int, addr string) {
			defer wg.Done()
			req := httptest.NewRequest(http.MethodPost, "/api/navigate", strings.NewReader(`{"to":"/create-product"}`))
			req.RemoteAddr = addr
			w := httptest.NewRecorder()
			h.Navigate(w, req)
			codes[i] = w.Code
		}(i, addr)
		// 2件目は1件目の問い合わせが始まってから送る
		select {
		case <-provider.started:
		case <-time.After(time.Second):
			t.Fatal("identity lookup did not start")
		}
	}
	close(provider.release)
	wg.Wait()

	for i, code := range codes {
		if code != http.StatusOK {
			t.Errorf("client %d: status = %d, want 200", i, code)
		}
	}
	if rec.superseded != 0 {
		t.Errorf("superseded recorded = %d, want 0", rec.superseded)
	}
}

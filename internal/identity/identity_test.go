package identity

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

// --- モック定義 ---

// countingProvider は購読と解除の回数を記録するプロバイダー。
// innerがnilの場合は通知を行わない。
type countingProvider struct {
	inner        Provider
	subscribes   atomic.Int32
	unsubscribes atomic.Int32
}

func (p *countingProvider) Subscribe(ctx context.Context, cred Credential, onChange func(*Identity), onError func(error)) func() {
	p.subscribes.Add(1)
	unsub := func() {}
	if p.inner != nil {
		unsub = p.inner.Subscribe(ctx, cred, onChange, onError)
	}
	return func() {
		p.unsubscribes.Add(1)
		unsub()
	}
}

// doubleNotifyProvider は同期的に2回通知する不正なプロバイダー。
type doubleNotifyProvider struct{}

func (doubleNotifyProvider) Subscribe(ctx context.Context, cred Credential, onChange func(*Identity), onError func(error)) func() {
	onChange(&Identity{UID: "first"})
	onChange(&Identity{UID: "second"})
	onError(errors.New("late error"))
	return func() {}
}

// --- テスト ---

func TestCurrent_ResolvesWithIdentity(t *testing.T) {
	p := &countingProvider{inner: StaticProvider{Identity: &Identity{UID: "user1"}}}

	id, err := Current(context.Background(), p, Credential{SessionID: "s"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id == nil || id.UID != "user1" {
		t.Fatalf("id = %+v, want uid user1", id)
	}
	if got := p.subscribes.Load(); got != 1 {
		t.Errorf("subscribes = %d, want 1", got)
	}
	if got := p.unsubscribes.Load(); got != 1 {
		t.Errorf("unsubscribes = %d, want 1", got)
	}
}

func TestCurrent_ResolvesWithAbsence(t *testing.T) {
	p := &countingProvider{inner: StaticProvider{}}

	id, err := Current(context.Background(), p, Credential{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != nil {
		t.Errorf("id = %+v, want nil", id)
	}
	if got := p.unsubscribes.Load(); got != 1 {
		t.Errorf("unsubscribes = %d, want 1", got)
	}
}

func TestCurrent_SynchronousDelivery(t *testing.T) {
	p := &countingProvider{inner: StaticProvider{Identity: &Identity{UID: "sync"}, Sync: true}}

	id, err := Current(context.Background(), p, Credential{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id == nil || id.UID != "sync" {
		t.Errorf("id = %+v, want uid sync", id)
	}
	if got := p.unsubscribes.Load(); got != 1 {
		t.Errorf("unsubscribes = %d, want 1", got)
	}
}

func TestCurrent_FirstNotificationWins(t *testing.T) {
	id, err := Current(context.Background(), doubleNotifyProvider{}, Credential{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id == nil || id.UID != "first" {
		t.Errorf("id = %+v, want uid first", id)
	}
}

func TestCurrent_ProviderError_ReturnsLookupFailed(t *testing.T) {
	cause := errors.New("network down")
	p := &countingProvider{inner: StaticProvider{Err: cause}}

	_, err := Current(context.Background(), p, Credential{})
	if !errors.Is(err, ErrLookupFailed) {
		t.Errorf("err = %v, want ErrLookupFailed", err)
	}
	if !errors.Is(err, cause) {
		t.Errorf("err = %v, want wrapped cause", err)
	}
	if got := p.unsubscribes.Load(); got != 1 {
		t.Errorf("unsubscribes = %d, want 1", got)
	}
}

func TestCurrent_Timeout_UnsubscribesAndFails(t *testing.T) {
	// 通知しないプロバイダー
	p := &countingProvider{}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := Current(ctx, p, Credential{})
	if !errors.Is(err, ErrLookupFailed) {
		t.Errorf("err = %v, want ErrLookupFailed", err)
	}
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want DeadlineExceeded", err)
	}
	if got := p.subscribes.Load(); got != 1 {
		t.Errorf("subscribes = %d, want 1", got)
	}
	if got := p.unsubscribes.Load(); got != 1 {
		t.Errorf("unsubscribes = %d, want 1", got)
	}
}

func TestCurrent_CancelledContext_DoesNotSubscribe(t *testing.T) {
	p := &countingProvider{inner: StaticProvider{}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Current(ctx, p, Credential{})
	if !errors.Is(err, ErrLookupFailed) {
		t.Errorf("err = %v, want ErrLookupFailed", err)
	}
	if got := p.subscribes.Load(); got != 0 {
		t.Errorf("subscribes = %d, want 0", got)
	}
}

func TestCurrent_ManyCalls_BalancedSubscriptions(t *testing.T) {
	p := &countingProvider{inner: StaticProvider{Identity: &Identity{UID: "u"}}}

	for i := 0; i < 50; i++ {
		if _, err := Current(context.Background(), p, Credential{}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if p.subscribes.Load() != 50 || p.unsubscribes.Load() != 50 {
		t.Errorf("subscribes = %d, unsubscribes = %d, want 50/50",
			p.subscribes.Load(), p.unsubscribes.Load())
	}
}

func TestWatch_NoDeliveryAfterUnsubscribe(t *testing.T) {
	release := make(chan struct{})
	delivered := make(chan struct{}, 1)

	unsub := watch(context.Background(), Credential{},
		func(*Identity) { delivered <- struct{}{} },
		func(error) { delivered <- struct{}{} },
		func(ctx context.Context, _ Credential) (*Identity, error) {
			<-release
			return &Identity{UID: "late"}, nil
		},
	)
	unsub()
	close(release)

	select {
	case <-delivered:
		t.Error("callback should not be called after unsubscribe")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestWatch_UnsubscribeCancelsLookup(t *testing.T) {
	cancelled := make(chan struct{})

	unsub := watch(context.Background(), Credential{}, func(*Identity) {}, func(error) {},
		func(ctx context.Context, _ Credential) (*Identity, error) {
			<-ctx.Done()
			close(cancelled)
			return nil, ctx.Err()
		},
	)
	unsub()

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		t.Fatal("lookup context was not cancelled")
	}
}

func TestCredential_IsZero(t *testing.T) {
	if !(Credential{}).IsZero() {
		t.Error("empty credential should be zero")
	}
	if (Credential{SessionID: "s"}).IsZero() {
		t.Error("credential with session should not be zero")
	}
	if (Credential{BearerToken: "t"}).IsZero() {
		t.Error("credential with token should not be zero")
	}
}

func TestChain_FirstPresentIdentityWins(t *testing.T) {
	second := &countingProvider{inner: StaticProvider{Identity: &Identity{UID: "should-not-be-asked"}}}
	chain := Chain{
		StaticProvider{},
		StaticProvider{Identity: &Identity{UID: "from-session"}},
		second,
	}

	id, err := Current(context.Background(), chain, Credential{SessionID: "s"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id == nil || id.UID != "from-session" {
		t.Errorf("id = %+v, want from-session", id)
	}
	if second.subscribes.Load() != 0 {
		t.Error("providers after the first match should not be consulted")
	}
}

func TestChain_AllAbsent_ReturnsNil(t *testing.T) {
	chain := Chain{StaticProvider{}, StaticProvider{Sync: true}}

	id, err := Current(context.Background(), chain, Credential{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != nil {
		t.Errorf("id = %+v, want nil", id)
	}
}

func TestChain_ErrorAborts(t *testing.T) {
	cause := errors.New("db unavailable")
	chain := Chain{StaticProvider{Err: cause}, StaticProvider{Identity: &Identity{UID: "x"}}}

	_, err := Current(context.Background(), chain, Credential{})
	if !errors.Is(err, ErrLookupFailed) || !errors.Is(err, cause) {
		t.Errorf("err = %v, want ErrLookupFailed wrapping cause", err)
	}
}

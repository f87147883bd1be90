package guard

import (
	"context"
	"errors"
	"sync"
)

// ErrSuperseded は同じクライアントでより新しいナビゲーションが開始されたため、
// 判定を適用してはならないことを示す。
var ErrSuperseded = errors.New("navigation superseded by a newer navigation")

// Decider はナビゲーションを判定するインターフェース。Guardが実装する。
type Decider interface {
	Decide(ctx context.Context, req NavigationRequest) Decision
}

// inflightNavigation は判定中のナビゲーション。
type inflightNavigation struct {
	seq    uint64
	cancel context.CancelFunc
}

// Navigator はクライアントごとに最後のナビゲーションだけを有効にする。
// 新しいナビゲーションが開始されると、同じクライアントの古いナビゲーションの
// コンテキストをキャンセルし、その判定はErrSupersededとともに返す。
type Navigator struct {
	decider Decider

	mu       sync.Mutex
	seq      uint64
	inflight map[string]*inflightNavigation
}

// NewNavigator はNavigatorを生成する。
func NewNavigator(decider Decider) *Navigator {
	return &Navigator{
		decider:  decider,
		inflight: make(map[string]*inflightNavigation),
	}
}

// Navigate はナビゲーションを判定する。
// 判定中に同じclientKeyで新しいナビゲーションが開始された場合、
// 判定結果とErrSupersededを返す。clientKeyが空の場合は順序制御を行わない。
func (n *Navigator) Navigate(ctx context.Context, clientKey string, req NavigationRequest) (Decision, error) {
	if clientKey == "" {
		return n.decider.Decide(ctx, req), nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	n.mu.Lock()
	n.seq++
	seq := n.seq
	if prev, ok := n.inflight[clientKey]; ok {
		prev.cancel()
	}
	n.inflight[clientKey] = &inflightNavigation{seq: seq, cancel: cancel}
	n.mu.Unlock()

	d := n.decider.Decide(ctx, req)

	n.mu.Lock()
	defer n.mu.Unlock()

	cur, ok := n.inflight[clientKey]
	if !ok || cur.seq != seq {
		return d, ErrSuperseded
	}
	delete(n.inflight, clientKey)
	return d, nil
}

// InFlight は判定中のクライアント数を返す。テストおよびメトリクス用。
func (n *Navigator) InFlight() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.inflight)
}

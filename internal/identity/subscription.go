package identity

import (
	"context"
	"sync"
)

// lookupFunc は1回分のユーザー情報の解決処理。
// 不在の場合は (nil, nil) を返す。
type lookupFunc func(ctx context.Context, cred Credential) (*Identity, error)

// subscription は1回限りの通知と解除を管理する。
type subscription struct {
	mu       sync.Mutex
	done     bool
	cancel   context.CancelFunc
	onChange func(*Identity)
	onError  func(error)
}

// claim は通知権を取得する。既に通知済みまたは解除済みの場合はfalseを返す。
func (s *subscription) claim() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return false
	}
	s.done = true
	return true
}

func (s *subscription) deliver(id *Identity) {
	if s.claim() && s.onChange != nil {
		s.onChange(id)
	}
}

func (s *subscription) fail(err error) {
	if s.claim() && s.onError != nil {
		s.onError(err)
	}
}

func (s *subscription) unsubscribe() {
	s.mu.Lock()
	s.done = true
	s.mu.Unlock()
	s.cancel()
}

// watch はlookupをバックグラウンドで実行し、結果を1回だけ通知する購読を開始する。
// 解除するとlookupに渡したコンテキストはキャンセルされる。
func watch(ctx context.Context, cred Credential, onChange func(*Identity), onError func(error), lookup lookupFunc) func() {
	ctx, cancel := context.WithCancel(ctx)
	s := &subscription{
		cancel:   cancel,
		onChange: onChange,
		onError:  onError,
	}

	go func() {
		id, err := lookup(ctx, cred)
		if err != nil {
			s.fail(err)
			return
		}
		s.deliver(id)
	}()

	return s.unsubscribe
}

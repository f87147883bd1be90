package identity

import "context"

// Chain は複数のプロバイダーを順に問い合わせる。
// 最初に見つかったユーザーを通知し、すべて不在なら不在を通知する。
// いずれかのプロバイダーが失敗した時点でそのエラーを通知する。
type Chain []Provider

// Subscribe はプロバイダーを順に問い合わせ、結果を1回だけ通知する。
func (c Chain) Subscribe(ctx context.Context, cred Credential, onChange func(*Identity), onError func(error)) func() {
	return watch(ctx, cred, onChange, onError, func(ctx context.Context, cred Credential) (*Identity, error) {
		for _, p := range c {
			id, err := Current(ctx, p, cred)
			if err != nil {
				return nil, err
			}
			if id != nil {
				return id, nil
			}
		}
		return nil, nil
	})
}

// StaticProvider は固定の結果を通知するプロバイダー。開発環境とテストで使用する。
type StaticProvider struct {
	Identity *Identity
	Err      error
	// Sync がtrueの場合、Subscribeから戻る前に通知する。
	Sync bool
}

// Subscribe は固定の結果を通知する。
func (p StaticProvider) Subscribe(ctx context.Context, cred Credential, onChange func(*Identity), onError func(error)) func() {
	if !p.Sync {
		return watch(ctx, cred, onChange, onError, func(context.Context, Credential) (*Identity, error) {
			return p.Identity, p.Err
		})
	}

	if p.Err != nil {
		onError(p.Err)
	} else {
		onChange(p.Identity)
	}
	return func() {}
}

// compile-time interface check
var (
	_ Provider = Chain(nil)
	_ Provider = StaticProvider{}
)

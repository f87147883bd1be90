// Package identity は「現在のユーザーは誰か」を問い合わせるIDプロバイダーを提供する。
//
// プロバイダーは購読型のインターフェースを持ち、購読ごとに1回だけ
// ユーザー情報またはその不在を非同期に通知する。
// Current は購読型の通知を1回限りの問い合わせに変換するアダプター。
package identity

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrLookupFailed はユーザー情報の問い合わせが完了できなかった場合のエラー。
// ネットワーク障害やプロバイダーの内部エラー、タイムアウトを含む。
var ErrLookupFailed = errors.New("identity lookup failed")

// Identity は認証済みユーザーを表す。不在はnilで表現する。
type Identity struct {
	UID      string `json:"uid"`
	Email    string `json:"email,omitempty"`
	Name     string `json:"name,omitempty"`
	Provider string `json:"provider,omitempty"` // "session", "id_token" 等
}

// Credential はリクエストに付随する認証情報。
// どちらも空の場合、プロバイダーは不在を通知する。
type Credential struct {
	SessionID   string
	BearerToken string
}

// IsZero は認証情報が1つも含まれていないかを返す。
func (c Credential) IsZero() bool {
	return c.SessionID == "" && c.BearerToken == ""
}

// Provider はユーザー情報の変更通知を購読するためのインターフェース。
//
// Subscribe は購読ごとに onChange または onError のどちらかを高々1回だけ呼び出す。
// 戻り値の関数で購読を解除する。解除後に新たな通知は開始されない。
type Provider interface {
	Subscribe(ctx context.Context, cred Credential, onChange func(*Identity), onError func(error)) (unsubscribe func())
}

// Current はプロバイダーを購読し、最初の通知（ユーザーまたは不在）で結果を返す。
// 購読は1回の呼び出しにつき1回だけ行い、成功・失敗・キャンセルのいずれの場合も
// 戻る前に必ず解除する。
// プロバイダーのエラーとctxの期限切れはErrLookupFailedでラップして返す。
func Current(ctx context.Context, p Provider, cred Credential) (*Identity, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLookupFailed, err)
	}

	type result struct {
		id  *Identity
		err error
	}

	ch := make(chan result, 1)
	var once sync.Once
	send := func(r result) {
		once.Do(func() { ch <- r })
	}

	unsubscribe := p.Subscribe(ctx, cred,
		func(id *Identity) {
			send(result{id: id})
		},
		func(err error) {
			if err == nil {
				err = errors.New("provider reported failure without error")
			}
			send(result{err: err})
		},
	)
	if unsubscribe != nil {
		defer unsubscribe()
	}

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, lookupFailed(r.err)
		}
		return r.id, nil
	case <-ctx.Done():
		return nil, lookupFailed(ctx.Err())
	}
}

// lookupFailed はerrをErrLookupFailedでラップする。既にラップ済みならそのまま返す。
func lookupFailed(err error) error {
	if errors.Is(err, ErrLookupFailed) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrLookupFailed, err)
}

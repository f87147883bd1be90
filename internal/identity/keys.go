package identity

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	jose "github.com/go-jose/go-jose/v4"
)

// DefaultFirebaseJWKSURL はFirebase IDトークンの署名鍵を公開するJWKSエンドポイント。
const DefaultFirebaseJWKSURL = "https://www.googleapis.com/service_accounts/v1/jwk/securetoken@system.gserviceaccount.com"

// ErrKeyUnavailable は署名検証用の公開鍵を取得できなかった場合のエラー。
// トークンの不正とは区別し、問い合わせ失敗として扱う。
var ErrKeyUnavailable = errors.New("signing key unavailable")

// errUnknownKeyID はkidに対応する鍵がJWKSに存在しない場合のエラー。
// 鍵の取得自体は成功しているため、トークン不正として扱う。
var errUnknownKeyID = errors.New("unknown key id")

// KeySource はkidからRSA公開鍵を引くためのインターフェース。
type KeySource interface {
	Key(ctx context.Context, kid string) (*rsa.PublicKey, error)
}

// StaticKeySource は固定の鍵セット。エミュレーターやテストで使用する。
type StaticKeySource map[string]*rsa.PublicKey

// Key はkidに対応する鍵を返す。
func (s StaticKeySource) Key(_ context.Context, kid string) (*rsa.PublicKey, error) {
	key, ok := s[kid]
	if !ok {
		return nil, fmt.Errorf("%w: %s", errUnknownKeyID, kid)
	}
	return key, nil
}

// JWKSKeySourceConfig はJWKSKeySourceの設定。
type JWKSKeySourceConfig struct {
	URL             string
	RefreshInterval time.Duration // 鍵セットを再取得する間隔
	HTTPClient      *http.Client
}

// JWKSKeySource はJWKSエンドポイントから署名鍵を取得する。
// 鍵はRefreshIntervalごとに再取得し、未知のkidを受け取った場合も
// 最低1分の間隔を空けて再取得する（鍵ローテーション対応）。
type JWKSKeySource struct {
	config JWKSKeySourceConfig

	mu        sync.Mutex
	keys      map[string]*rsa.PublicKey
	fetchedAt time.Time
	now       func() time.Time
}

// minForcedRefresh は未知のkidによる強制再取得の最小間隔。
const minForcedRefresh = time.Minute

// NewJWKSKeySource はJWKSKeySourceを生成する。
func NewJWKSKeySource(config JWKSKeySourceConfig) *JWKSKeySource {
	if config.URL == "" {
		config.URL = DefaultFirebaseJWKSURL
	}
	if config.RefreshInterval <= 0 {
		config.RefreshInterval = time.Hour
	}
	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &JWKSKeySource{
		config: config,
		keys:   make(map[string]*rsa.PublicKey),
		now:    time.Now,
	}
}

// Key はkidに対応する公開鍵を返す。
func (s *JWKSKeySource) Key(ctx context.Context, kid string) (*rsa.PublicKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	stale := s.fetchedAt.IsZero() || now.Sub(s.fetchedAt) > s.config.RefreshInterval
	key, ok := s.keys[kid]

	if stale || (!ok && now.Sub(s.fetchedAt) > minForcedRefresh) {
		keys, err := s.fetch(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrKeyUnavailable, err)
		}
		s.keys = keys
		s.fetchedAt = now
		key, ok = s.keys[kid]
	}

	if !ok {
		return nil, fmt.Errorf("%w: %s", errUnknownKeyID, kid)
	}
	return key, nil
}

// fetch はJWKSエンドポイントから鍵セットを取得する。
func (s *JWKSKeySource) fetch(ctx context.Context) (map[string]*rsa.PublicKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.config.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create jwks request: %w", err)
	}

	resp, err := s.config.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("jwks request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read jwks response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("jwks fetch failed with status %d", resp.StatusCode)
	}

	var set jose.JSONWebKeySet
	if err := json.Unmarshal(body, &set); err != nil {
		return nil, fmt.Errorf("failed to parse jwks response: %w", err)
	}

	return rsaSigningKeys(set)
}

// rsaSigningKeys は鍵セットから署名用のRSA公開鍵をkidごとに取り出す。
// kidのない鍵や暗号化用途の鍵は無視する。
func rsaSigningKeys(set jose.JSONWebKeySet) (map[string]*rsa.PublicKey, error) {
	keys := make(map[string]*rsa.PublicKey, len(set.Keys))
	for _, k := range set.Keys {
		if k.KeyID == "" || (k.Use != "" && k.Use != "sig") {
			continue
		}
		if k.Algorithm != "" && k.Algorithm != string(jose.RS256) {
			continue
		}
		pub, ok := k.Key.(*rsa.PublicKey)
		if !ok {
			continue
		}
		keys[k.KeyID] = pub
	}

	if len(keys) == 0 {
		return nil, errors.New("jwks contains no RSA keys")
	}

	return keys, nil
}

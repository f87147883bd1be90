package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ProviderIDToken はFirebase IDトークン経由で解決したユーザーを示す。
const ProviderIDToken = "id_token"

// ErrInvalidToken はIDトークンの署名・発行者・対象者・有効期限のいずれかが不正な場合のエラー。
var ErrInvalidToken = errors.New("invalid id token")

// firebaseClaims はFirebase IDトークンのクレーム。
type firebaseClaims struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Firebase struct {
		SignInProvider string `json:"sign_in_provider"`
	} `json:"firebase"`
	jwt.RegisteredClaims
}

// TokenVerifierConfig はTokenVerifierの設定。
type TokenVerifierConfig struct {
	ProjectID string
	Keys      KeySource
	Leeway    time.Duration // 時刻ずれの許容幅
}

// TokenVerifier はFirebase IDトークンを検証する。
// 署名はRS256のみ許可し、発行者は https://securetoken.google.com/<project>、
// 対象者は<project>でなければならない。uidはsubクレームから取得する。
type TokenVerifier struct {
	config TokenVerifierConfig
	parser *jwt.Parser
}

// NewTokenVerifier はTokenVerifierを生成する。
func NewTokenVerifier(config TokenVerifierConfig) *TokenVerifier {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithIssuer("https://securetoken.google.com/" + config.ProjectID),
		jwt.WithAudience(config.ProjectID),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	}
	if config.Leeway > 0 {
		opts = append(opts, jwt.WithLeeway(config.Leeway))
	}
	return &TokenVerifier{
		config: config,
		parser: jwt.NewParser(opts...),
	}
}

// Verify はIDトークンを検証し、ユーザー情報を返す。
// 鍵の取得に失敗した場合はErrKeyUnavailable、それ以外の検証失敗はErrInvalidTokenを返す。
func (v *TokenVerifier) Verify(ctx context.Context, raw string) (*Identity, error) {
	var claims firebaseClaims
	_, err := v.parser.ParseWithClaims(raw, &claims, func(token *jwt.Token) (interface{}, error) {
		kid, ok := token.Header["kid"].(string)
		if !ok || kid == "" {
			return nil, errors.New("token missing kid header")
		}
		return v.config.Keys.Key(ctx, kid)
	})
	if err != nil {
		if errors.Is(err, ErrKeyUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: empty sub claim", ErrInvalidToken)
	}

	return &Identity{
		UID:      claims.Subject,
		Email:    claims.Email,
		Name:     claims.Name,
		Provider: ProviderIDToken,
	}, nil
}

// TokenProvider はBearerトークンとして渡されたIDトークンからユーザーを解決するプロバイダー。
// 不正なトークンは未ログインと同じく不在として通知し、
// 鍵が取得できない場合のみエラーを通知する。
type TokenProvider struct {
	verifier *TokenVerifier
	logger   *slog.Logger
}

// NewTokenProvider はTokenProviderを生成する。
func NewTokenProvider(verifier *TokenVerifier, logger *slog.Logger) *TokenProvider {
	if logger == nil {
		logger = slog.Default()
	}
	return &TokenProvider{verifier: verifier, logger: logger}
}

// Subscribe はIDトークンを検証し、結果を1回だけ通知する。
func (p *TokenProvider) Subscribe(ctx context.Context, cred Credential, onChange func(*Identity), onError func(error)) func() {
	return watch(ctx, cred, onChange, onError, p.lookup)
}

func (p *TokenProvider) lookup(ctx context.Context, cred Credential) (*Identity, error) {
	if cred.BearerToken == "" {
		return nil, nil
	}

	id, err := p.verifier.Verify(ctx, cred.BearerToken)
	if err != nil {
		if errors.Is(err, ErrInvalidToken) {
			p.logger.Warn("rejected id token",
				slog.String("error", err.Error()),
			)
			return nil, nil
		}
		return nil, err
	}

	return id, nil
}

// compile-time interface check
var _ Provider = (*TokenProvider)(nil)

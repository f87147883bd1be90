// Package guard はナビゲーションごとに実行されるアクセス制御ガードを提供する。
//
// ガードは遷移先ルートのタグとIDプロバイダーから取得したユーザーを照合し、
// 遷移の許可、ログイン画面へのリダイレクト、権限なし画面へのリダイレクトの
// いずれか1つを必ず決定する。ユーザー情報が取得できない場合は許可しない。
package guard

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hitoshi/supply/internal/identity"
	"github.com/hitoshi/supply/internal/route"
)

// ErrMisconfiguredAdmin は管理者UIDが未設定またはプレースホルダーのままの場合のエラー。
// 起動時の設定エラーとして扱う。
var ErrMisconfiguredAdmin = errors.New("admin uid is not configured")

// PlaceholderAdminUID はサンプル設定に含まれるプレースホルダー値。
const PlaceholderAdminUID = "PASTE_YOUR_UID_HERE"

// ユーザーに表示する警告メッセージ
const (
	WarningLoginRequired       = "You must be logged in to access this page."
	WarningNotAllowed          = "You are not allowed to access this page."
	WarningIdentityUnavailable = "We could not verify your login. Please log in again."
)

const defaultIdentityTimeout = 5 * time.Second

// Outcome はナビゲーションの判定結果。
type Outcome int

const (
	// Proceed は遷移を許可する。
	Proceed Outcome = iota
	// RedirectLogin はログイン画面へリダイレクトする。
	RedirectLogin
	// RedirectNotAuthorized は権限なし画面へリダイレクトする。
	RedirectNotAuthorized
)

// String はログとメトリクスのラベルに使う表現を返す。
func (o Outcome) String() string {
	switch o {
	case Proceed:
		return "proceed"
	case RedirectLogin:
		return "redirect_login"
	case RedirectNotAuthorized:
		return "redirect_not_authorized"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// MarshalText はJSONレスポンスで文字列として出力する。
func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// NavigationRequest は1回のナビゲーション試行を表す。判定後は破棄される。
type NavigationRequest struct {
	Target     route.Route
	Source     route.Route
	Credential identity.Credential
}

// Decision はナビゲーション1回につき必ず1つ生成される判定。
type Decision struct {
	Outcome  Outcome
	Redirect string // Proceed以外の場合のリダイレクト先
	Warning  string // Proceed以外の場合にユーザーへ表示する警告
	Identity *identity.Identity
	// Err はユーザー情報の問い合わせに失敗した場合のエラー。ログ出力用。
	Err error
}

// Allowed は遷移が許可されたかを返す。
func (d Decision) Allowed() bool {
	return d.Outcome == Proceed
}

// Recorder はガードの判定結果を記録するインターフェース。
// metrics.Collectorが実装する。
type Recorder interface {
	RecordDecision(routeName string, outcome string)
	RecordIdentityLookup(duration time.Duration, err error)
}

type nopRecorder struct{}

func (nopRecorder) RecordDecision(string, string) {}

func (nopRecorder) RecordIdentityLookup(time.Duration, error) {}

// Config はガードの設定。起動時に1回だけ構築する。
type Config struct {
	AdminUID          string
	LoginPath         string
	NotAuthorizedPath string
	// IdentityTimeout はユーザー情報の問い合わせのタイムアウト。
	// 超過した場合はログイン画面へリダイレクトする。
	IdentityTimeout time.Duration
}

// ValidateAdminUID は管理者UIDが実際の値として設定されているかを検証する。
func ValidateAdminUID(uid string) error {
	uid = strings.TrimSpace(uid)
	if uid == "" || uid == PlaceholderAdminUID {
		return ErrMisconfiguredAdmin
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.LoginPath == "" {
		c.LoginPath = route.PathLogin
	}
	if c.NotAuthorizedPath == "" {
		c.NotAuthorizedPath = route.PathNotAuthorized
	}
	if c.IdentityTimeout <= 0 {
		c.IdentityTimeout = defaultIdentityTimeout
	}
}

// Guard はナビゲーションのアクセス制御を行う。
// 判定のたびにユーザー情報を問い合わせ、状態を保持しない。
type Guard struct {
	config   Config
	provider identity.Provider
	recorder Recorder
	logger   *slog.Logger
}

// New はGuardを生成する。管理者UIDが不正な場合はErrMisconfiguredAdminを返す。
// recorderとloggerはnilでもよい。
func New(config Config, provider identity.Provider, recorder Recorder, logger *slog.Logger) (*Guard, error) {
	if err := ValidateAdminUID(config.AdminUID); err != nil {
		return nil, err
	}
	if provider == nil {
		return nil, errors.New("identity provider is required")
	}
	config.applyDefaults()
	if recorder == nil {
		recorder = nopRecorder{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Guard{
		config:   config,
		provider: provider,
		recorder: recorder,
		logger:   logger,
	}, nil
}

// Evaluate はタグとユーザーから判定結果を決める。
// ログイン要否を先に判定し、次に管理者判定を行う。
func Evaluate(tags route.Tags, id *identity.Identity, adminUID string) Outcome {
	if tags.Has(route.RequiresAuth) && id == nil {
		return RedirectLogin
	}
	if tags.Has(route.OnlyMe) && (id == nil || id.UID != adminUID) {
		return RedirectNotAuthorized
	}
	return Proceed
}

// Decide はナビゲーションを判定する。
// タグのないルートはユーザー情報を問い合わせずに許可する。
// 問い合わせに失敗した場合はRedirectLoginとし、Errにエラーを設定する。
func (g *Guard) Decide(ctx context.Context, req NavigationRequest) Decision {
	if req.Target.Tags.IsZero() {
		d := Decision{Outcome: Proceed}
		g.recorder.RecordDecision(req.Target.Name, d.Outcome.String())
		return d
	}

	lookupCtx, cancel := context.WithTimeout(ctx, g.config.IdentityTimeout)
	defer cancel()

	start := time.Now()
	id, err := identity.Current(lookupCtx, g.provider, req.Credential)

	if err != nil && ctx.Err() != nil {
		// 呼び出し元のキャンセル（新しいナビゲーションによる追い越し等）は
		// プロバイダーの障害として扱わない
		d := g.decision(RedirectLogin)
		d.Warning = WarningIdentityUnavailable
		d.Err = err
		g.logger.Debug("identity lookup canceled",
			slog.String("to", req.Target.Path),
			slog.String("error", err.Error()),
		)
		return d
	}
	g.recorder.RecordIdentityLookup(time.Since(start), err)

	if err != nil {
		d := g.decision(RedirectLogin)
		d.Warning = WarningIdentityUnavailable
		d.Err = err
		g.logger.Error("identity lookup failed, navigation denied",
			slog.String("to", req.Target.Path),
			slog.String("from", req.Source.Path),
			slog.String("error", err.Error()),
		)
		g.recorder.RecordDecision(req.Target.Name, d.Outcome.String())
		return d
	}

	d := g.decision(Evaluate(req.Target.Tags, id, g.config.AdminUID))
	d.Identity = id

	if !d.Allowed() {
		attrs := []any{
			slog.String("to", req.Target.Path),
			slog.String("from", req.Source.Path),
			slog.String("tags", req.Target.Tags.String()),
			slog.String("outcome", d.Outcome.String()),
		}
		if id != nil {
			attrs = append(attrs, slog.String("user_id", id.UID))
		}
		g.logger.Warn("navigation blocked", attrs...)
	}

	g.recorder.RecordDecision(req.Target.Name, d.Outcome.String())
	return d
}

// decision は判定結果にリダイレクト先と警告を付与する。
func (g *Guard) decision(o Outcome) Decision {
	switch o {
	case RedirectLogin:
		return Decision{Outcome: o, Redirect: g.config.LoginPath, Warning: WarningLoginRequired}
	case RedirectNotAuthorized:
		return Decision{Outcome: o, Redirect: g.config.NotAuthorizedPath, Warning: WarningNotAllowed}
	default:
		return Decision{Outcome: Proceed}
	}
}

// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, navigation, product, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeAuthRequired         = "AUTH_REQUIRED"
	ErrCodeNotAuthorized        = "NOT_AUTHORIZED"
	ErrCodeUnknownRoute         = "UNKNOWN_ROUTE"
	ErrCodeNavigationSuperseded = "NAVIGATION_SUPERSEDED"
	ErrCodeInvalidIDToken       = "INVALID_ID_TOKEN"
	ErrCodeUserNotFound         = "USER_NOT_FOUND"
	ErrCodeProductNotFound      = "PRODUCT_NOT_FOUND"
	ErrCodeInvalidProduct       = "INVALID_PRODUCT"
	ErrCodeInvalidQuantity      = "INVALID_QUANTITY"
	ErrCodeInvalidRequest       = "INVALID_REQUEST"
	ErrCodeRateLimitExceeded    = "RATE_LIMIT_EXCEEDED"
	ErrCodeCSRFInvalid          = "CSRF_INVALID"
	ErrCodeInternal             = "INTERNAL_ERROR"
)

// NewAuthRequiredError はログインが必要なページへの未ログインアクセスのエラーを生成する。
func NewAuthRequiredError(warning string) *APIError {
	return &APIError{
		Code:     ErrCodeAuthRequired,
		Message:  warning,
		Category: "auth",
		Action:   "ログインしてから再度お試しください。",
	}
}

// NewNotAuthorizedError は管理者専用ページへのアクセス拒否エラーを生成する。
func NewNotAuthorizedError(warning string) *APIError {
	return &APIError{
		Code:     ErrCodeNotAuthorized,
		Message:  warning,
		Category: "auth",
		Action:   "このページは管理者のみ利用できます。",
	}
}

// NewUnknownRouteError は存在しないルートへの遷移エラーを生成する。
func NewUnknownRouteError(path string) *APIError {
	return &APIError{
		Code:     ErrCodeUnknownRoute,
		Message:  fmt.Sprintf("指定されたページが見つかりません: %s", path),
		Category: "navigation",
		Action:   "URLを確認してください。",
	}
}

// NewNavigationSupersededError は新しい遷移によって破棄された遷移のエラーを生成する。
func NewNavigationSupersededError() *APIError {
	return &APIError{
		Code:     ErrCodeNavigationSuperseded,
		Message:  "より新しいページ遷移が開始されたため、この遷移は破棄されました。",
		Category: "navigation",
		Action:   "最新の遷移結果を使用してください。",
	}
}

// NewInvalidIDTokenError はIDトークンの検証失敗エラーを生成する。
func NewInvalidIDTokenError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidIDToken,
		Message:  "IDトークンを検証できませんでした。",
		Category: "auth",
		Action:   "再度ログインしてください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewProductNotFoundError は商品未検出エラーを生成する。
func NewProductNotFoundError(productID string) *APIError {
	return &APIError{
		Code:     ErrCodeProductNotFound,
		Message:  fmt.Sprintf("指定された商品が見つかりません: %s", productID),
		Category: "product",
		Action:   "商品IDを確認してください。",
	}
}

// NewInvalidProductError は商品の入力値が不正な場合のエラーを生成する。
func NewInvalidProductError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidProduct,
		Message:  fmt.Sprintf("商品情報が不正です: %s", reason),
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewInvalidQuantityError は補充数量が不正な場合のエラーを生成する。
func NewInvalidQuantityError(quantity int) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidQuantity,
		Message:  fmt.Sprintf("無効な数量です: %d", quantity),
		Category: "validation",
		Action:   fmt.Sprintf("数量は1から%dの範囲で指定してください。", MaxRestockQuantity),
	}
}

// NewStockLimitExceededError は補充後の在庫数が上限を超える場合のエラーを生成する。
func NewStockLimitExceededError(productID string, quantity int) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidQuantity,
		Message:  fmt.Sprintf("補充後の在庫数が上限を超えます: %s (+%d)", productID, quantity),
		Category: "validation",
		Action:   fmt.Sprintf("在庫数は%d以下になるように指定してください。", MaxProductStock),
	}
}

// NewInvalidRequestError はリクエストボディが不正な場合のエラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("リクエストが不正です: %s", reason),
		Category: "validation",
		Action:   "リクエスト内容を確認してください。",
	}
}

// NewRateLimitExceededError はレート制限超過エラーを生成する。
func NewRateLimitExceededError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimitExceeded,
		Message:  "リクエストが多すぎます。",
		Category: "system",
		Action:   "Retry-Afterヘッダーの秒数だけ待ってから再度お試しください。",
	}
}

// NewCSRFInvalidError はCSRFトークン検証失敗エラーを生成する。
func NewCSRFInvalidError() *APIError {
	return &APIError{
		Code:     ErrCodeCSRFInvalid,
		Message:  "CSRFトークンの検証に失敗しました。",
		Category: "auth",
		Action:   "ページを再読み込みしてから再度お試しください。",
	}
}

// NewInternalError は内部エラーを生成する。詳細はログにのみ記録する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hitoshi/supply/internal/model"
)

// ErrStockLimitExceeded は補充後の在庫数がmodel.MaxProductStockを超える場合のエラー。
var ErrStockLimitExceeded = errors.New("stock limit exceeded")

// UserRepository はユーザーデータの永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// Upsert はユーザーを作成する。既に存在する場合はメールアドレスと名前を更新する。
	// CreatedAt、UpdatedAtはデータベースの値で上書きされる。
	Upsert(ctx context.Context, user *model.User) error
}

// SessionRepository はセッションデータの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteExpired はbefore以前に期限切れとなったセッションを削除し、削除件数を返す。
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

// ProductRepository は商品と入荷記録の永続化インターフェース。
type ProductRepository interface {
	// List は商品一覧を作成日時の降順で返す。
	List(ctx context.Context, limit int) ([]*model.Product, error)

	// FindByID は指定IDの商品を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Product, error)

	// Create は商品を作成する。
	Create(ctx context.Context, product *model.Product) error

	// Restock は在庫数の加算と入荷記録の追加を同一トランザクションで行う。
	// 商品が存在しない場合はnilを返す。加算後の在庫数が上限を超える場合は
	// ErrStockLimitExceededを返し、何も更新しない。
	Restock(ctx context.Context, movement *model.StockMovement) (*model.Product, error)

	// ListMovements は入荷記録を新しい順に返す。
	ListMovements(ctx context.Context, limit int) ([]*model.StockMovement, error)
}

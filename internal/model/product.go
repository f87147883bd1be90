package model

import (
	"math"
	"time"
)

// Product はストアフロントで販売する商品を表す。
type Product struct {
	ID          string
	Name        string
	Description string // サニタイズ済みHTML
	PriceCents  int64
	Stock       int
	CreatedBy   string // 作成したユーザーのUID
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// StockMovement は在庫の入荷記録を表す。
// 補充のたびに1件追加され、更新・削除はしない。
type StockMovement struct {
	ID          string
	ProductID   string
	ProductName string // 一覧表示用。productsとJOINして取得する
	Quantity    int
	ActorUID    string
	CreatedAt   time.Time
}

// 商品の入力制約
const (
	MaxProductNameLength        = 200
	MaxProductDescriptionLength = 5000
	MaxRestockQuantity          = 10000

	// MaxProductStock は在庫数の上限。productsテーブルのINTEGER列に合わせる。
	MaxProductStock = math.MaxInt32
)

package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/supply/internal/model"
)

// PostgresProductRepo はPostgreSQLを使用した商品リポジトリ。
type PostgresProductRepo struct {
	db *sql.DB
}

// NewPostgresProductRepo はPostgresProductRepoを生成する。
func NewPostgresProductRepo(db *sql.DB) *PostgresProductRepo {
	return &PostgresProductRepo{db: db}
}

const productColumns = `id, name, description, price_cents, stock, created_by, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanProduct(row rowScanner) (*model.Product, error) {
	p := &model.Product{}
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.PriceCents, &p.Stock,
		&p.CreatedBy, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// List は商品一覧を作成日時の降順で返す。
func (r *PostgresProductRepo) List(ctx context.Context, limit int) ([]*model.Product, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+productColumns+`
		 FROM products
		 ORDER BY created_at DESC, id
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	defer rows.Close()

	var products []*model.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan product: %w", err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate products: %w", err)
	}
	return products, nil
}

// FindByID は指定IDの商品を取得する。見つからない場合はnilを返す。
func (r *PostgresProductRepo) FindByID(ctx context.Context, id string) (*model.Product, error) {
	p, err := scanProduct(r.db.QueryRowContext(ctx,
		`SELECT `+productColumns+` FROM products WHERE id = $1`,
		id,
	))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find product by ID: %w", err)
	}
	return p, nil
}

// Create は商品を作成する。
func (r *PostgresProductRepo) Create(ctx context.Context, product *model.Product) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO products (id, name, description, price_cents, stock, created_by, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		product.ID, product.Name, product.Description, product.PriceCents, product.Stock,
		product.CreatedBy, product.CreatedAt, product.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create product: %w", err)
	}
	return nil
}

// Restock は在庫数の加算と入荷記録の追加を同一トランザクションで行う。
// 商品が存在しない場合はnilを返す。加算後の在庫数が上限を超える場合はErrStockLimitExceeded。
func (r *PostgresProductRepo) Restock(ctx context.Context, movement *model.StockMovement) (*model.Product, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	p, err := scanProduct(tx.QueryRowContext(ctx,
		`UPDATE products
		 SET stock = stock + $1, updated_at = now()
		 WHERE id = $2 AND stock <= $3 - $1
		 RETURNING `+productColumns,
		movement.Quantity, movement.ProductID, model.MaxProductStock,
	))
	if err == sql.ErrNoRows {
		// 商品が存在しないのか、上限に達しているのかを区別する
		var exists bool
		if err := tx.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM products WHERE id = $1)`, movement.ProductID,
		).Scan(&exists); err != nil {
			return nil, fmt.Errorf("failed to check product: %w", err)
		}
		if exists {
			return nil, ErrStockLimitExceeded
		}
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update stock: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO stock_movements (id, product_id, quantity, actor_uid, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		movement.ID, movement.ProductID, movement.Quantity, movement.ActorUID, movement.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert stock movement: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}

	movement.ProductName = p.Name
	return p, nil
}

// ListMovements は入荷記録を新しい順に返す。
func (r *PostgresProductRepo) ListMovements(ctx context.Context, limit int) ([]*model.StockMovement, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT m.id, m.product_id, p.name, m.quantity, m.actor_uid, m.created_at
		 FROM stock_movements m
		 JOIN products p ON p.id = m.product_id
		 ORDER BY m.created_at DESC, m.id
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list stock movements: %w", err)
	}
	defer rows.Close()

	var movements []*model.StockMovement
	for rows.Next() {
		m := &model.StockMovement{}
		if err := rows.Scan(&m.ID, &m.ProductID, &m.ProductName, &m.Quantity, &m.ActorUID, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan stock movement: %w", err)
		}
		movements = append(movements, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate stock movements: %w", err)
	}
	return movements, nil
}

// compile-time interface check
var _ ProductRepository = (*PostgresProductRepo)(nil)

// Package product は商品カタログと在庫補充のドメインロジックを提供する。
package product

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/hitoshi/supply/internal/model"
	"github.com/hitoshi/supply/internal/repository"
	"github.com/hitoshi/supply/internal/security"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// CreateInput は商品作成の入力値。
type CreateInput struct {
	Name        string
	Description string
	PriceCents  int64
	Stock       int
}

// Service は商品カタログのサービス層。
type Service struct {
	repo      repository.ProductRepository
	users     repository.UserRepository
	sanitizer security.Sanitizer
	now       func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(repo repository.ProductRepository, users repository.UserRepository, sanitizer security.Sanitizer) *Service {
	return &Service{
		repo:      repo,
		users:     users,
		sanitizer: sanitizer,
		now:       time.Now,
	}
}

// List は商品一覧を返す。limitが範囲外の場合は既定値に丸める。
func (s *Service) List(ctx context.Context, limit int) ([]*model.Product, error) {
	products, err := s.repo.List(ctx, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("商品一覧の取得に失敗しました: %w", err)
	}
	return products, nil
}

// Create は商品を作成する。actorは作成者として記録される。
// 名前はタグを除去し、説明は許可タグのみを残して保存する。
// /auth/loginを経ずにIDトークンだけで認証したユーザーは、ここでusersに登録する。
func (s *Service) Create(ctx context.Context, actor *model.User, in CreateInput) (*model.Product, error) {
	name := s.sanitizer.Text(in.Name)
	if name == "" {
		return nil, model.NewInvalidProductError("商品名は必須です")
	}
	if utf8.RuneCountInString(name) > model.MaxProductNameLength {
		return nil, model.NewInvalidProductError(fmt.Sprintf("商品名は%d文字以内で入力してください", model.MaxProductNameLength))
	}
	description := s.sanitizer.HTML(in.Description)
	if utf8.RuneCountInString(description) > model.MaxProductDescriptionLength {
		return nil, model.NewInvalidProductError(fmt.Sprintf("説明は%d文字以内で入力してください", model.MaxProductDescriptionLength))
	}
	if in.PriceCents < 0 {
		return nil, model.NewInvalidProductError("価格は0以上で指定してください")
	}
	if in.Stock < 0 || in.Stock > model.MaxProductStock {
		return nil, model.NewInvalidProductError(fmt.Sprintf("在庫数は0以上%d以下で指定してください", model.MaxProductStock))
	}

	if err := s.ensureUser(ctx, actor); err != nil {
		return nil, err
	}

	now := s.now()
	p := &model.Product{
		ID:          uuid.New().String(),
		Name:        name,
		Description: description,
		PriceCents:  in.PriceCents,
		Stock:       in.Stock,
		CreatedBy:   actor.ID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("商品の作成に失敗しました: %w", err)
	}

	slog.Info("product created",
		slog.String("product_id", p.ID),
		slog.String("user_id", actor.ID),
	)
	return p, nil
}

// Restock は商品の在庫を補充し、入荷記録を追加する。
func (s *Service) Restock(ctx context.Context, actorUID, productID string, quantity int) (*model.Product, error) {
	if quantity <= 0 || quantity > model.MaxRestockQuantity {
		return nil, model.NewInvalidQuantityError(quantity)
	}
	if _, err := uuid.Parse(productID); err != nil {
		return nil, model.NewProductNotFoundError(productID)
	}

	movement := &model.StockMovement{
		ID:        uuid.New().String(),
		ProductID: productID,
		Quantity:  quantity,
		ActorUID:  actorUID,
		CreatedAt: s.now(),
	}
	p, err := s.repo.Restock(ctx, movement)
	if errors.Is(err, repository.ErrStockLimitExceeded) {
		return nil, model.NewStockLimitExceededError(productID, quantity)
	}
	if err != nil {
		return nil, fmt.Errorf("在庫の補充に失敗しました: %w", err)
	}
	if p == nil {
		return nil, model.NewProductNotFoundError(productID)
	}

	slog.Info("product restocked",
		slog.String("product_id", p.ID),
		slog.String("user_id", actorUID),
		slog.Int("quantity", quantity),
		slog.Int("stock", p.Stock),
	)
	return p, nil
}

// ListMovements は入荷記録を新しい順に返す。管理者ページで使用する。
func (s *Service) ListMovements(ctx context.Context, limit int) ([]*model.StockMovement, error) {
	movements, err := s.repo.ListMovements(ctx, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("入荷記録の取得に失敗しました: %w", err)
	}
	return movements, nil
}

// ensureUser は作成者がusersに存在しない場合だけ登録する。
// 既存ユーザーのメールアドレスと名前は上書きしない。
func (s *Service) ensureUser(ctx context.Context, actor *model.User) error {
	if actor == nil || actor.ID == "" {
		return model.NewAuthRequiredError("ログインが必要です。")
	}
	existing, err := s.users.FindByID(ctx, actor.ID)
	if err != nil {
		return fmt.Errorf("作成者の取得に失敗しました: %w", err)
	}
	if existing != nil {
		return nil
	}
	if err := s.users.Upsert(ctx, actor); err != nil {
		return fmt.Errorf("作成者の登録に失敗しました: %w", err)
	}
	slog.Info("user registered on first write", slog.String("user_id", actor.ID))
	return nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > maxListLimit {
		return maxListLimit
	}
	return limit
}

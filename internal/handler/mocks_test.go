package handler

import (
	"context"

	"github.com/hitoshi/supply/internal/guard"
	"github.com/hitoshi/supply/internal/identity"
	"github.com/hitoshi/supply/internal/model"
	"github.com/hitoshi/supply/internal/product"
)

// --- モック定義 ---

type mockAuthService struct {
	loginFn  func(ctx context.Context, idToken string) (*model.Session, *model.User, error)
	logoutFn func(ctx context.Context, sessionID string) error
}

func (m *mockAuthService) Login(ctx context.Context, idToken string) (*model.Session, *model.User, error) {
	if m.loginFn != nil {
		return m.loginFn(ctx, idToken)
	}
	return nil, nil, model.NewInvalidIDTokenError()
}

func (m *mockAuthService) Logout(ctx context.Context, sessionID string) error {
	if m.logoutFn != nil {
		return m.logoutFn(ctx, sessionID)
	}
	return nil
}

type mockProductService struct {
	listFn          func(ctx context.Context, limit int) ([]*model.Product, error)
	createFn        func(ctx context.Context, actor *model.User, in product.CreateInput) (*model.Product, error)
	restockFn       func(ctx context.Context, actorUID, productID string, quantity int) (*model.Product, error)
	listMovementsFn func(ctx context.Context, limit int) ([]*model.StockMovement, error)
}

func (m *mockProductService) List(ctx context.Context, limit int) ([]*model.Product, error) {
	if m.listFn != nil {
		return m.listFn(ctx, limit)
	}
	return nil, nil
}

func (m *mockProductService) Create(ctx context.Context, actor *model.User, in product.CreateInput) (*model.Product, error) {
	if m.createFn != nil {
		return m.createFn(ctx, actor, in)
	}
	return &model.Product{ID: "p-1", Name: in.Name, CreatedBy: actor.ID}, nil
}

func (m *mockProductService) Restock(ctx context.Context, actorUID, productID string, quantity int) (*model.Product, error) {
	if m.restockFn != nil {
		return m.restockFn(ctx, actorUID, productID, quantity)
	}
	return &model.Product{ID: productID, Stock: quantity}, nil
}

func (m *mockProductService) ListMovements(ctx context.Context, limit int) ([]*model.StockMovement, error) {
	if m.listMovementsFn != nil {
		return m.listMovementsFn(ctx, limit)
	}
	return nil, nil
}

type mockNavigator struct {
	navigateFn func(ctx context.Context, clientKey string, req guard.NavigationRequest) (guard.Decision, error)
}

func (m *mockNavigator) Navigate(ctx context.Context, clientKey string, req guard.NavigationRequest) (guard.Decision, error) {
	return m.navigateFn(ctx, clientKey, req)
}

type mockRecorder struct {
	restocked  []int
	superseded int
}

func (m *mockRecorder) RecordRestock(quantity int) { m.restocked = append(m.restocked, quantity) }

func (m *mockRecorder) RecordSuperseded() { m.superseded++ }

// sessionProvider はセッションIDからユーザーを引くテスト用のIDプロバイダー。
type sessionProvider struct {
	users map[string]*identity.Identity
	err   error
}

func (p *sessionProvider) Subscribe(ctx context.Context, cred identity.Credential, onChange func(*identity.Identity), onError func(error)) func() {
	if p.err != nil {
		onError(p.err)
	} else {
		onChange(p.users[cred.SessionID])
	}
	return func() {}
}

// --- compile-time interface checks ---
var (
	_ AuthServiceInterface    = (*mockAuthService)(nil)
	_ ProductServiceInterface = (*mockProductService)(nil)
	_ ProductServiceInterface = (*product.Service)(nil)
	_ NavigatorInterface      = (*mockNavigator)(nil)
	_ NavigatorInterface      = (*guard.Navigator)(nil)
	_ RestockRecorder         = (*mockRecorder)(nil)
	_ SupersededRecorder      = (*mockRecorder)(nil)
	_ identity.Provider       = (*sessionProvider)(nil)
)

package route

// ページ名
const (
	NameHome          = "Home"
	NameLogin         = "Login"
	NameCreateProduct = "CreateProduct"
	NameRestock       = "Restock"
	NameNotAuthorized = "NotAuthorized"
	NameAdmin         = "Admin"
)

// 既定のパス
const (
	PathHome          = "/"
	PathLogin         = "/login"
	PathCreateProduct = "/create-product"
	PathRestock       = "/restock"
	PathNotAuthorized = "/not-authorized"
	PathAdmin         = "/admin"
)

// Storefront はストアフロントのルート定義を返す。
// 管理者専用の /admin にはonlyMeのみを付与するため、
// 未ログインのアクセスも /not-authorized に振り分けられる。
func Storefront() []Route {
	return []Route{
		{Path: PathHome, Name: NameHome},
		{Path: PathLogin, Name: NameLogin},
		{Path: PathCreateProduct, Name: NameCreateProduct, Tags: RequiresAuth},
		{Path: PathRestock, Name: NameRestock, Tags: RequiresAuth},
		{Path: PathNotAuthorized, Name: NameNotAuthorized},
		{Path: PathAdmin, Name: NameAdmin, Tags: OnlyMe},
	}
}

// DefaultTable はStorefrontのルート定義からTableを生成する。
func DefaultTable() (*Table, error) {
	return NewTable(Storefront()...)
}

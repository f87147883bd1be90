// Package route はストアフロントのルートテーブルを定義する。
// 各ルートはパス、ページ名、アクセス制御タグを持ち、起動時に1回だけ構築される。
package route

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnknownRoute はルートテーブルに一致するエントリがない場合のエラー。
	ErrUnknownRoute = errors.New("unknown route")
	// ErrDuplicatePath は同一パスのルートが複数定義された場合のエラー。
	ErrDuplicatePath = errors.New("duplicate route path")
	// ErrInvalidRoute はパスまたは名前が不正なルートのエラー。
	ErrInvalidRoute = errors.New("invalid route")
)

// Tags はルートに付与するアクセス制御タグの集合。
type Tags uint8

const (
	// RequiresAuth はログイン済みユーザーのみアクセスできることを示す。
	RequiresAuth Tags = 1 << iota
	// OnlyMe は管理者UIDのユーザーのみアクセスできることを示す。
	OnlyMe
)

// Has はtagがすべて含まれているかを返す。
func (t Tags) Has(tag Tags) bool {
	return t&tag == tag
}

// IsZero はタグが1つも付与されていないかを返す。
func (t Tags) IsZero() bool {
	return t == 0
}

// String はログ出力用の表現を返す。
func (t Tags) String() string {
	var parts []string
	if t.Has(RequiresAuth) {
		parts = append(parts, "requiresAuth")
	}
	if t.Has(OnlyMe) {
		parts = append(parts, "onlyMe")
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, ",")
}

type tagsJSON struct {
	RequiresAuth bool `json:"requiresAuth"`
	OnlyMe       bool `json:"onlyMe"`
}

// MarshalJSON はフロントエンドのルーターが参照するmeta形式で出力する。
func (t Tags) MarshalJSON() ([]byte, error) {
	return json.Marshal(tagsJSON{
		RequiresAuth: t.Has(RequiresAuth),
		OnlyMe:       t.Has(OnlyMe),
	})
}

// UnmarshalJSON はmeta形式からTagsを復元する。
func (t *Tags) UnmarshalJSON(b []byte) error {
	var v tagsJSON
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*t = 0
	if v.RequiresAuth {
		*t |= RequiresAuth
	}
	if v.OnlyMe {
		*t |= OnlyMe
	}
	return nil
}

// Route はルートテーブルの1エントリ。
type Route struct {
	Path string `json:"path"`
	Name string `json:"name"`
	Tags Tags   `json:"meta"`
}

// Table は起動時に構築される読み取り専用のルートテーブル。
// 定義順を保持し、同一パスのルートは存在しない。
type Table struct {
	routes []Route
	byPath map[string]int
	byName map[string]int
}

// NewTable はルート定義からTableを生成する。
// 空のパス・名前、重複したパスまたは名前はエラーとする。
func NewTable(routes ...Route) (*Table, error) {
	t := &Table{
		routes: make([]Route, 0, len(routes)),
		byPath: make(map[string]int, len(routes)),
		byName: make(map[string]int, len(routes)),
	}

	for _, r := range routes {
		if r.Path == "" || !strings.HasPrefix(r.Path, "/") {
			return nil, fmt.Errorf("%w: path %q must start with /", ErrInvalidRoute, r.Path)
		}
		if r.Name == "" {
			return nil, fmt.Errorf("%w: route %q has no name", ErrInvalidRoute, r.Path)
		}
		if _, exists := t.byPath[r.Path]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicatePath, r.Path)
		}
		if _, exists := t.byName[r.Name]; exists {
			return nil, fmt.Errorf("%w: name %q is already used", ErrInvalidRoute, r.Name)
		}
		t.byPath[r.Path] = len(t.routes)
		t.byName[r.Name] = len(t.routes)
		t.routes = append(t.routes, r)
	}

	return t, nil
}

// Routes は定義順のルート一覧のコピーを返す。
func (t *Table) Routes() []Route {
	out := make([]Route, len(t.routes))
	copy(out, t.routes)
	return out
}

// Lookup はパスに一致するルートを返す。
// 末尾のスラッシュは無視する（"/restock/" は "/restock" と同じ）。
func (t *Table) Lookup(path string) (Route, error) {
	if len(path) > 1 {
		path = strings.TrimSuffix(path, "/")
	}
	i, ok := t.byPath[path]
	if !ok {
		return Route{}, fmt.Errorf("%w: %s", ErrUnknownRoute, path)
	}
	return t.routes[i], nil
}

// ByName は名前に一致するルートを返す。
func (t *Table) ByName(name string) (Route, error) {
	i, ok := t.byName[name]
	if !ok {
		return Route{}, fmt.Errorf("%w: name %q", ErrUnknownRoute, name)
	}
	return t.routes[i], nil
}

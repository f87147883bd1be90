package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/hitoshi/supply/internal/route"
)

// Command はアプリケーションの起動モード。
type Command string

const (
	CommandServe   Command = "serve"
	CommandWorker  Command = "worker"
	CommandMigrate Command = "migrate"
	// CommandRoutes はルートテーブルを標準出力へ書き出す。設定もDBも不要。
	CommandRoutes Command = "routes"
	// CommandHealthcheck はdistrolessイメージのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

// ErrUnknownCommand は未対応のサブコマンドが指定されたことを示す。
var ErrUnknownCommand = errors.New("unknown command")

var commands = []Command{CommandServe, CommandWorker, CommandMigrate, CommandRoutes, CommandHealthcheck}

// ParseCommand は先頭の引数からサブコマンドを決める。引数なしはserve。
// 誤記したコマンドでAPIサーバーが起動しないよう、未対応の名前はエラーにする。
func ParseCommand(args []string) (Command, error) {
	if len(args) == 0 {
		return CommandServe, nil
	}
	for _, c := range commands {
		if args[0] == string(c) {
			return c, nil
		}
	}
	return "", fmt.Errorf("%w %q (available: %s)", ErrUnknownCommand, args[0], commandList())
}

func commandList() string {
	names := make([]string, len(commands))
	for i, c := range commands {
		names[i] = string(c)
	}
	return strings.Join(names, ", ")
}

// runRoutes はルートテーブルを1行1ルートのJSONで書き出す。
func runRoutes(w io.Writer) error {
	table, err := route.DefaultTable()
	if err != nil {
		return fmt.Errorf("failed to build route table: %w", err)
	}
	enc := json.NewEncoder(w)
	for _, r := range table.Routes() {
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("failed to write route %s: %w", r.Name, err)
		}
	}
	return nil
}

package app

import (
	"fmt"
	"strconv"
)

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はWebサーバーとして起動する。
	CommandServe Command = "serve"
	// CommandWorker は期限切れセッションと古い生成履歴を定期削除するワーカーとして起動する。
	CommandWorker Command = "worker"
	// CommandMigrate はデータベースマイグレーションを操作する。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はdistroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

// ParseCommand は先頭の引数からサブコマンドを決める。
// 引数が空または未知のコマンドの場合はCommandServe。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}
	switch c := Command(args[0]); c {
	case CommandWorker, CommandMigrate, CommandHealthcheck:
		return c
	default:
		return CommandServe
	}
}

// MigrateAction はmigrateサブコマンドの操作。
type MigrateAction struct {
	Name  string // up, down, version
	Steps int    // downで取り消すステップ数
}

// ParseMigrateArgs はmigrate以降の引数を解析する。
//
//	migrate             全て適用
//	migrate up          全て適用
//	migrate down [N]    直近N（既定1）ステップを取り消す
//	migrate version     現在のバージョンを表示
func ParseMigrateArgs(args []string) (MigrateAction, error) {
	if len(args) == 0 {
		return MigrateAction{Name: "up"}, nil
	}
	switch args[0] {
	case "up", "version":
		if len(args) > 1 {
			return MigrateAction{}, fmt.Errorf("migrate %s takes no arguments", args[0])
		}
		return MigrateAction{Name: args[0]}, nil
	case "down":
		action := MigrateAction{Name: "down", Steps: 1}
		if len(args) > 1 {
			n, err := strconv.Atoi(args[1])
			if err != nil || n < 1 {
				return MigrateAction{}, fmt.Errorf("invalid rollback steps %q", args[1])
			}
			action.Steps = n
		}
		return action, nil
	default:
		return MigrateAction{}, fmt.Errorf("unknown migrate action %q (want up, down or version)", args[0])
	}
}

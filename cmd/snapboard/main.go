// Command snapboard は写真共有フィードのAPIサーバー・ワーカー・マイグレーションを起動する。
//
//	snapboard [serve]            APIサーバー
//	snapboard worker             孤立オブジェクトの定期削除
//	snapboard migrate [up|down [n]|version]
//	snapboard healthcheck        Dockerヘルスチェック
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/snapboard/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "snapboard: %v\n", err)
		os.Exit(1)
	}
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
)

func main() {
	// 割り込まれた実験は実行中の試行を失敗として打ち切る
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

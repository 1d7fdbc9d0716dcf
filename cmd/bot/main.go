package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"linepress/internal/app"
)

func main() {
	var (
		cfgPath   string
		once      bool
		keywords  string
		limit     int
		deliverTo string
	)
	flag.StringVar(&cfgPath, "config", "./config.yaml", "path to config yaml")
	flag.BoolVar(&once, "once", false, "run one pipeline pass and exit")
	flag.StringVar(&keywords, "keywords", "", "space-separated keywords for -once (defaults from config)")
	flag.IntVar(&limit, "limit", 0, "article limit for -once (defaults from config)")
	flag.StringVar(&deliverTo, "deliver", "", "also deliver the -once digest to this recipient")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}

	if once {
		runOnce(ctx, a, keywords, limit, deliverTo)
		return
	}

	if err := a.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "fatal start:", err)
		os.Exit(1)
	}

	<-ctx.Done()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer stopCancel()
	a.Stop(stopCtx)
}

func runOnce(ctx context.Context, a *app.App, keywords string, limit int, deliverTo string) {
	start := time.Now()
	res, err := a.RunOnce(ctx, strings.Fields(keywords), limit, deliverTo)
	if err != nil {
		a.Stop(context.Background())
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}

	fmt.Println(a.FormatResult(strings.Fields(keywords), res))
	fmt.Printf("\n-- sources: %d  cached: %v  took: %s\n",
		res.Entry.SourceCount, res.Cached, time.Since(start).Round(time.Millisecond))
	a.Stop(context.Background())
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/23skdu/longbow-bitnet/internal/bridge"
	"github.com/23skdu/longbow-bitnet/internal/config"
	"github.com/23skdu/longbow-bitnet/internal/logger"
)

var (
	configPath  = flag.String("config", "", "Path to YAML config (default $BITNET_CONFIG or ./bitnet.yaml)")
	modelPath   = flag.String("model", "", "Model path or Ollama name, overrides config")
	prompt      = flag.String("prompt", "Hello world", "Prompt to send; extra args are sent as further prompts")
	callers     = flag.Int("n", 1, "Concurrent callers per prompt")
	metricsAddr = flag.String("metrics", "", "Address to serve /healthz, /status and /metrics")
	showInfo    = flag.Bool("info", false, "Print model metadata after loading")
	linger      = flag.Bool("linger", false, "Keep serving status until interrupted")
)

func main() {
	flag.Parse()

	if *configPath != "" {
		if err := os.Setenv(config.EnvConfig, *configPath); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}
	cfg, err := config.Resolve()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *modelPath != "" {
		cfg.Model.Path = *modelPath
	}
	if *metricsAddr != "" {
		cfg.Metrics.Addr = *metricsAddr
	}
	if *callers < 1 {
		*callers = 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	b := bridge.FromConfig(ctx, cfg)

	prompts := append([]string{*prompt}, flag.Args()...)
	failed := false
	for _, p := range prompts {
		if err := run(ctx, b, p, *callers); err != nil {
			logger.Log.Error("generation failed", "prompt_bytes", len(p), "error", err)
			failed = true
		}
	}

	if *showInfo {
		printInfo(b)
	}

	if *linger && cfg.Metrics.Addr != "" {
		logger.Log.Info("serving status, interrupt to exit", "addr", cfg.Metrics.Addr)
		<-ctx.Done()
	}
	if err := b.Close(); err != nil {
		logger.Log.Warn("journal close failed", "error", err)
	}
	if failed {
		os.Exit(1)
	}
}

// run sends p from n goroutines at once. They all observe one model.
func run(ctx context.Context, b *bridge.Bridge, p string, n int) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
		outs = make([]string, n)
	)
	start := time.Now()
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			out, err := b.Respond(ctx, []byte(p))
			if err != nil {
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
				return
			}
			outs[i] = out
		}(i)
	}
	wg.Wait()
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	logger.Log.Debug("prompt complete", "callers", n, "took", time.Since(start).String())
	fmt.Println(outs[0])
	return nil
}

func printInfo(b *bridge.Bridge) {
	m, ok := b.Model()
	if !ok {
		fmt.Println("model not loaded")
		return
	}
	_ = m.WriteInfo(os.Stdout)
}

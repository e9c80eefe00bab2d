package cli

import (
	"context"
	"fmt"
	"log"
	"os"

	"go.opentelemetry.io/otel"

	"github.com/ticketrush/coordinator/correlate"
	"github.com/ticketrush/coordinator/dispatch"
	"github.com/ticketrush/coordinator/gateway"
	"github.com/ticketrush/coordinator/gateway/redisbridge"
	"github.com/ticketrush/coordinator/gateway/wsbridge"
	"github.com/ticketrush/coordinator/history"
	"github.com/ticketrush/coordinator/internal/config"
	"github.com/ticketrush/coordinator/notify"
	"github.com/ticketrush/coordinator/session"
	"github.com/ticketrush/coordinator/types"
)

// app is one fully wired engine connection: transport, correlator,
// session, and the running dispatcher.
type app struct {
	cfg     config.Config
	sess    *session.Session
	disp    *dispatch.Dispatcher
	cancel  context.CancelFunc
	closers []func()
}

// connect builds the stack the environment asks for and starts the
// dispatcher over the transport's push channels.
func connect(ctx context.Context) (*app, error) {
	cfg := config.FromEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &app{cfg: cfg}
	gw, events, logLines, err := a.dialTransport(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if cfg.Tracing {
		gw = gateway.WithTracing(gw, otel.GetTracerProvider())
	}

	var corr correlate.Correlator
	if cfg.Strategy == config.StrategyPoll {
		corr = correlate.NewPoll(gw,
			correlate.WithAttempts(cfg.PollAttempts),
			correlate.WithInterval(cfg.PollInterval))
	} else {
		corr = correlate.NewPush(gw)
	}

	opts := []session.Option{session.WithSink(notify.LogSink{})}
	if cfg.HistoryPath != "" {
		store, err := history.New(cfg.HistoryPath)
		if err != nil {
			a.close()
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = store.Close() })
		opts = append(opts, session.WithHistory(store))
	}
	opts = append(opts, session.WithTerminateHook(func(reason string) {
		log.Printf("engine ordered shutdown: %s", reason)
		os.Exit(3)
	}))

	a.sess = session.New(gw, corr, opts...)
	a.disp = dispatch.New(a.sess.Logs())
	if err := a.sess.BindDispatcher(a.disp); err != nil {
		a.close()
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	go func() {
		if err := a.disp.Run(runCtx, events, logLines); err != nil && runCtx.Err() == nil {
			log.Printf("dispatcher stopped: %v", err)
		}
	}()
	return a, nil
}

func (a *app) dialTransport(ctx context.Context, cfg config.Config) (gateway.Gateway, <-chan types.PushEvent, <-chan string, error) {
	switch cfg.Transport {
	case config.TransportRedis:
		var opts []redisbridge.Option
		if cfg.RedisPassword != "" {
			opts = append(opts, redisbridge.WithPassword(cfg.RedisPassword))
		}
		if cfg.RedisDB != 0 {
			opts = append(opts, redisbridge.WithDB(cfg.RedisDB))
		}
		if cfg.RedisPrefix != "" {
			opts = append(opts, redisbridge.WithPrefix(cfg.RedisPrefix))
		}
		b, err := redisbridge.New(ctx, cfg.RedisAddr, opts...)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("connect redis engine bridge: %w", err)
		}
		a.closers = append(a.closers, func() { _ = b.Close() })
		return b, b.Events(), b.Logs(), nil
	default:
		b, err := wsbridge.Dial(ctx, cfg.EngineURL)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("connect engine websocket: %w", err)
		}
		a.closers = append(a.closers, func() { _ = b.Close() })
		return b, b.Events(), b.Logs(), nil
	}
}

func (a *app) close() {
	if a.cancel != nil {
		a.cancel()
	}
	if a.sess != nil {
		a.sess.Close()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

package bot

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"coefbot/internal/storage"
	"coefbot/internal/transport"
	logx "coefbot/pkg/logx"
)

type HandlerFunc func(ctx context.Context, req *Request) error

type Middleware func(next HandlerFunc) HandlerFunc

func Chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

func MWTimeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			if d <= 0 {
				return next(ctx, req)
			}
			cctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(cctx, req)
		}
	}
}

func MWPanicRecover(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				if r := recover(); r != nil {
					logger := log
					if req != nil && !req.Logger.IsZero() {
						logger = req.Logger
					}
					logger.Error("panic recovered",
						logx.Any("panic", r),
						logx.String("stack", string(debug.Stack())),
					)
					err = fmt.Errorf("panic: %v", r)
				}
			}()
			return next(ctx, req)
		}
	}
}

func MWRequestLog(log logx.Logger) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			logger := log
			if !req.Logger.IsZero() {
				logger = req.Logger
			}
			err := next(ctx, req)
			d := time.Since(start)

			fields := []logx.Field{
				logx.String("kind", string(req.Update.Kind)),
				logx.String("cmd", req.Command),
				logx.Duration("dur", d),
			}
			if err != nil {
				logger.Warn("request failed", append(fields, logx.Err(err))...)
			} else if d >= 750*time.Millisecond {
				logger.Info("request ok", fields...)
			} else {
				logger.Debug("request ok", fields...)
			}
			return err
		}
	}
}

// MenuKey is the KV key holding the last menu message of kind.
func MenuKey(kind string) string { return "previous_" + kind + "_message_id" }

// ReplaceMenu keeps one live menu message of kind per bot. It deletes the
// previous one, shows a loading note while next runs, and remembers the
// message next sent through req.Reply.
func ReplaceMenu(kv storage.KV, kind string) Middleware {
	key := MenuKey(kind)
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			var prev transport.MessageRef
			if found, err := kv.Get(ctx, key, &prev); err != nil {
				req.Logger.Debug("previous menu lookup failed", logx.String("menu", kind), logx.Err(err))
			} else if found && !prev.IsZero() {
				if err := req.adapter.DeleteMessage(ctx, prev); err != nil {
					req.Logger.Debug("previous menu not deleted", logx.String("menu", kind), logx.Err(err))
				}
			}

			loading, lerr := req.adapter.SendText(ctx, req.Chat, msgs.Loading, nil)

			req.sent = transport.MessageRef{}
			err := next(ctx, req)

			if lerr == nil && !loading.IsZero() {
				_ = req.adapter.DeleteMessage(ctx, loading)
			}
			if !req.sent.IsZero() {
				if serr := kv.Set(ctx, key, req.sent); serr != nil {
					req.Logger.Warn("menu id not stored", logx.String("menu", kind), logx.Err(serr))
				}
			}
			return err
		}
	}
}

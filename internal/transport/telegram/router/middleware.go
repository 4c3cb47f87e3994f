package router

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/time/rate"

	kit "brightsched/internal/transport"
	logx "brightsched/pkg/logx"
)

type HandlerFunc func(ctx context.Context, req *Request) error

type Middleware func(next HandlerFunc) HandlerFunc

// errRateLimited is returned when a user sends faster than the limiter allows.
var errRateLimited = errors.New("rate limited")

// chain applies m so that m[0] is outermost.
func chain(h HandlerFunc, m ...Middleware) HandlerFunc {
	for i := len(m) - 1; i >= 0; i-- {
		h = m[i](h)
	}
	return h
}

func withTimeout(d time.Duration) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		if d <= 0 {
			return next
		}
		return func(ctx context.Context, req *Request) error {
			cctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(cctx, req)
		}
	}
}

func recoverPanic() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) (err error) {
			defer func() {
				if r := recover(); r != nil {
					req.Logger.Error("handler panic recovered",
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

// logRequest logs every request; slow ones are promoted to info.
func logRequest() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			start := time.Now()
			err := next(ctx, req)
			took := time.Since(start)

			fields := []logx.Field{
				logx.String("kind", string(req.Update.Kind)),
				logx.Int("args", len(req.Args)),
				logx.Duration("took", took),
			}
			switch {
			case errors.Is(err, errRateLimited):
				req.Logger.Debug("request throttled", fields...)
			case err != nil:
				req.Logger.Warn("request failed", append(fields, logx.Err(err))...)
			case took >= 750*time.Millisecond:
				req.Logger.Info("request ok (slow)", fields...)
			default:
				req.Logger.Debug("request ok", fields...)
			}
			return err
		}
	}
}

// replyOnError tells the user something went wrong. Details stay in the log.
func replyOnError() Middleware {
	return func(next HandlerFunc) HandlerFunc {
		return func(ctx context.Context, req *Request) error {
			err := next(ctx, req)
			if err == nil {
				return nil
			}
			msg := "❌ internal error, see logs (ref " + req.ReqID + ")"
			if errors.Is(err, errRateLimited) {
				msg = "⏳ slow down"
			}
			// the handler context may already be done
			rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			_ = req.Reply(rctx, msg, &kit.SendOptions{})
			return err
		}
	}
}

// userLimiter hands out one token bucket per sender.
type userLimiter struct {
	every rate.Limit
	burst int

	mu  sync.Mutex
	per map[int64]*rate.Limiter
}

func newUserLimiter(every rate.Limit, burst int) *userLimiter {
	return &userLimiter{every: every, burst: burst, per: map[int64]*rate.Limiter{}}
}

func (l *userLimiter) allow(id int64) bool {
	l.mu.Lock()
	lim, ok := l.per[id]
	if !ok {
		lim = rate.NewLimiter(l.every, l.burst)
		l.per[id] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}

func rateLimit(l *userLimiter) Middleware {
	return func(next HandlerFunc) HandlerFunc {
		if l == nil {
			return next
		}
		return func(ctx context.Context, req *Request) error {
			if !l.allow(req.FromID) {
				return errRateLimited
			}
			return next(ctx, req)
		}
	}
}

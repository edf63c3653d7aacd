package sso

import (
	"context"
	"log/slog"
	"net/url"

	"github.com/al-bashkir/reachable/internal/logsanitize"
)

// Interceptor applies a Flow to the navigations of one login attempt.
//
// It starts out watching and finishes at most once. After it finishes every
// navigation is cancelled so the browser never reaches the real redirect
// target. Hosts deliver navigation events one at a time, so Interceptor does
// no locking and must not be shared between goroutines.
type Interceptor struct {
	flow     Flow
	finished bool
	result   Result
}

// NewInterceptor returns an Interceptor watching flow.
func NewInterceptor(flow Flow) *Interceptor {
	return &Interceptor{flow: flow}
}

// Flow returns the wrapped flow.
func (i *Interceptor) Flow() Flow { return i.flow }

// OnNavigate decides whether the host may navigate to target.
func (i *Interceptor) OnNavigate(ctx context.Context, target string, doc Document) Decision {
	if i.finished {
		return Cancel()
	}

	u, err := url.Parse(target)
	if err != nil || !i.flow.Terminal(u) {
		return Allow()
	}

	d := i.flow.Decide(ctx, u, doc)
	if d.Action == ActionFinish {
		i.finished = true
		i.result = d.Result

		slog.Debug("sso flow finished",
			"provider", i.flow.Provider(),
			"target", logsanitize.RedactURL(target),
			"ok", d.Result.OK(),
		)
	}
	return d
}

// Finished reports whether the flow has produced its result.
func (i *Interceptor) Finished() bool {
	return i.finished
}

// Result returns the terminal result once the flow has finished.
func (i *Interceptor) Result() (Result, bool) {
	return i.result, i.finished
}

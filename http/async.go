package http

import (
	"context"
	nethttp "net/http"
)

// Future is the handle of a logical request running in the background. It shares the
// retry and decode logic of the blocking calls.
type Future[R any] struct {
	done    chan struct{}
	cancel  context.CancelFunc
	outcome *Outcome[R]
	err     error
}

// Async starts Do in a new goroutine. Cancelling ctx or calling Cancel aborts the request,
// including any backoff sleep in progress.
func Async[R any](ctx context.Context, g *Gateway, method string, target Target[R], call Call) *Future[R] {
	ctx, cancel := context.WithCancel(ctx)
	f := &Future[R]{done: make(chan struct{}), cancel: cancel}
	go func() {
		defer close(f.done)
		defer cancel()
		f.outcome, f.err = Do(ctx, g, method, target, call)
	}()
	return f
}

// GetAsync is the non-blocking form of Get.
func GetAsync[R any](ctx context.Context, g *Gateway, target Target[R], call Call) *Future[R] {
	return Async(ctx, g, nethttp.MethodGet, target, call)
}

// PostAsync is the non-blocking form of Post.
func PostAsync[R any](ctx context.Context, g *Gateway, target Target[R], call Call) *Future[R] {
	return Async(ctx, g, nethttp.MethodPost, target, call)
}

// PutAsync is the non-blocking form of Put.
func PutAsync[R any](ctx context.Context, g *Gateway, target Target[R], call Call) *Future[R] {
	return Async(ctx, g, nethttp.MethodPut, target, call)
}

// DeleteAsync is the non-blocking form of Delete.
func DeleteAsync[R any](ctx context.Context, g *Gateway, target Target[R], call Call) *Future[R] {
	return Async(ctx, g, nethttp.MethodDelete, target, call)
}

// Done is closed when the request has reached a terminal outcome.
func (f *Future[R]) Done() <-chan struct{} {
	return f.done
}

// Await blocks until the outcome is available or ctx is done. Giving up on ctx does not
// cancel the request; use Cancel for that.
func (f *Future[R]) Await(ctx context.Context) (*Outcome[R], error) {
	select {
	case <-f.done:
		return f.outcome, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Cancel aborts the request. The future still completes, with the cancellation error.
func (f *Future[R]) Cancel() {
	f.cancel()
}

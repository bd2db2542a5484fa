// Package httpmiddleware contains the HTTP middleware chain shared by the API
// and worker servers.
package httpmiddleware

import "net/http"

// Middleware decorates an http.Handler with cross-cutting behaviour such as
// logging, tracing or access control.
type Middleware func(http.Handler) http.Handler

// Wrap applies mws to h and returns the resulting handler. The first
// middleware is the outermost: it sees the request first and the response
// last. Order matters, for example Recovery should come first and Labeler
// last.
func Wrap(h http.Handler, mws ...Middleware) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// statusRecorder captures the response status and size.
type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int64
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(b)
	r.bytes += int64(n)
	return n, err
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

func (r *statusRecorder) code() int {
	if r.status == 0 {
		return http.StatusOK
	}
	return r.status
}

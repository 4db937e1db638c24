package stream

import (
	"errors"
	"net/http"
	"sync"
	"time"
)

// State is the commitment state of a streamed HTTP response.
type State int

const (
	// NotStarted: nothing sent; an error status is still possible.
	NotStarted State = iota
	// HeadersSent: 200 and headers are on the wire, no body yet.
	HeadersSent
	// StreamingBody: at least one body byte was written.
	StreamingBody
	// Completed: the body ended normally.
	Completed
	// Aborted: the body ended early; the client sees a truncated download.
	Aborted
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not_started"
	case HeadersSent:
		return "headers_sent"
	case StreamingBody:
		return "streaming_body"
	case Completed:
		return "completed"
	case Aborted:
		return "aborted"
	}
	return "unknown"
}

// ErrAlreadyCommitted is returned when a status change is attempted after headers went out.
var ErrAlreadyCommitted = errors.New("response already committed")

// ErrNotCommitted is returned by Write before Commit.
var ErrNotCommitted = errors.New("response headers not sent")

// Response wraps a ResponseWriter with the NotStarted -> HeadersSent ->
// StreamingBody -> Completed|Aborted state machine. Only NotStarted may
// produce an error status.
type Response struct {
	mu           sync.Mutex
	w            http.ResponseWriter
	rc           *http.ResponseController
	state        State
	committed    bool
	written      int64
	writeTimeout time.Duration
}

// NewResponse wraps w. A positive writeTimeout bounds each body write so a
// stalled client fails its own sink instead of holding up the others.
func NewResponse(w http.ResponseWriter, writeTimeout time.Duration) *Response {
	return &Response{
		w:            w,
		rc:           http.NewResponseController(w),
		writeTimeout: writeTimeout,
	}
}

// State returns the current state.
func (r *Response) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Written returns the number of body bytes written.
func (r *Response) Written() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.written
}

// Fail sends an error response if nothing has been sent yet. It reports
// whether the error was sent; once headers are out it is a no-op.
func (r *Response) Fail(status int, write func(w http.ResponseWriter, status int)) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != NotStarted {
		return false
	}
	r.state = Aborted
	write(r.w, status)
	return true
}

// Commit sets headers via setHeaders and sends 200 OK.
func (r *Response) Commit(setHeaders func(h http.Header)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != NotStarted {
		return ErrAlreadyCommitted
	}
	if setHeaders != nil {
		setHeaders(r.w.Header())
	}
	// The body may run far longer than the server-wide write timeout.
	_ = r.rc.SetWriteDeadline(time.Time{})
	r.w.WriteHeader(http.StatusOK)
	_ = r.rc.Flush()
	r.state = HeadersSent
	r.committed = true
	return nil
}

// Write writes a body chunk and flushes it to the client.
func (r *Response) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch r.state {
	case NotStarted:
		return 0, ErrNotCommitted
	case Completed, Aborted:
		return 0, ErrAlreadyCommitted
	}

	if r.writeTimeout > 0 {
		_ = r.rc.SetWriteDeadline(time.Now().Add(r.writeTimeout))
	}
	n, err := r.w.Write(p)
	r.written += int64(n)
	if n > 0 {
		r.state = StreamingBody
	}
	if err != nil {
		return n, err
	}
	if ferr := r.rc.Flush(); ferr != nil && !errors.Is(ferr, http.ErrNotSupported) {
		return n, ferr
	}
	return n, nil
}

// Finish moves a committed response to Completed or Aborted.
func (r *Response) Finish(ok bool) State {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch r.state {
	case HeadersSent, StreamingBody:
		if ok {
			r.state = Completed
		} else {
			r.state = Aborted
		}
	}
	return r.state
}

// Truncated reports whether a 200 went out but the body did not complete.
// An error status sent by Fail is not a truncation.
func (r *Response) Truncated() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.committed && r.state != Completed
}

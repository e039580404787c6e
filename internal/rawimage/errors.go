package rawimage

import "sync"

// errorLog accumulates non-fatal decode warnings behind a mutex, so
// decompressor workers running on separate rows can report problems
// without synchronizing with each other.
type errorLog struct {
	mu     sync.Mutex
	errors []string
}

func (l *errorLog) setError(err string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, err)
}

// isTooManyErrors reports whether at least many errors have been logged,
// returning the first one recorded.
func (l *errorLog) isTooManyErrors(many int) (string, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.errors) < many {
		return "", false
	}
	return l.errors[0], true
}

func (l *errorLog) getErrors() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := l.errors
	l.errors = nil
	return out
}

// SetError records a non-fatal decode warning against the image.
func (im *Image) SetError(err string) { im.setError(err) }

// IsTooManyErrors reports whether at least many errors have been logged,
// returning the first one recorded.
func (im *Image) IsTooManyErrors(many int) (string, bool) { return im.isTooManyErrors(many) }

// Errors drains and returns the accumulated error log.
func (im *Image) Errors() []string { return im.getErrors() }

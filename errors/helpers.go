package errors

// WrapOpComponent wraps err with an operation and component, keeping the
// code and retryability of an inner SyncError. If err is nil, returns nil.
func WrapOpComponent(err error, op Operation, component string) error {
	if err == nil {
		return nil
	}
	wrapped := &SyncError{Op: op, Component: component, Err: err}
	var inner *SyncError
	if As(err, &inner) {
		wrapped.Code = inner.Code
		wrapped.Retryable = inner.Retryable
		wrapped.Metadata = inner.Metadata
	}
	return wrapped
}

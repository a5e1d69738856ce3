package errors

// WrapOpComponent provides a convenience helper to wrap errors with consistent Op and Component propagation.
// It avoids repetition when creating structured errors throughout the codebase.
// If err is nil, returns nil.
func WrapOpComponent(err error, op Operation, component string) error {
	if err == nil {
		return nil
	}
	return NewWithComponent(op, component, err)
}

// WrapStore wraps a storage-layer error with the store-unavailable code.
// If err is nil, returns nil.
func WrapStore(err error, op Operation) error {
	if err == nil {
		return nil
	}
	return NewStoreError(op, err)
}

package errors

// StorageFailure marks err as an internal storage failure of op in component. Storage drivers use
// it for driver errors that carry no better classification. A nil err stays nil.
func StorageFailure(err error, op Operation, component Component) error {
	if err == nil {
		return nil
	}
	return E(op, component, KindInternal, ErrCodeStorageFailure, err)
}

package credstore

import "errors"

var (
	ErrStoreCorrupt = errors.New("credstore: store file is corrupt")
	ErrBadPassword  = errors.New("credstore: password does not open this store")
	ErrAliasMissing = errors.New("credstore: alias not present in store")
)

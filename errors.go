package boxstore

import "errors"

var (
	ErrBoxClosed         = errors.New("operation on a closed box")
	ErrBoxIsUsing        = errors.New("the box is used by another process")
	ErrCompactInProgress = errors.New("compaction is in progress, try again later")
	ErrNoEnoughSpace     = errors.New("not enough disk space for compaction")
	ErrInvalidKey        = errors.New("invalid key encoding")
	ErrIndexUpdateFailed = errors.New("failed to update index")
)

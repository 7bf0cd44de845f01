package store

import "errors"

var (
	ErrWALNotInitialized = errors.New("WAL not initialized")
	ErrTxnDone           = errors.New("transaction already committed or aborted")
	ErrStaleTerm         = errors.New("write term is behind the oplog")
	ErrEmptyTxn          = errors.New("transaction has no operations")
)

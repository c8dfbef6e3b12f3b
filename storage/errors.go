package storage

import "errors"

// ErrMissingKey 快照没有会话键
var ErrMissingKey = errors.New("restoration snapshot without session key")

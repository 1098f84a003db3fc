package session

import (
	"errors"

	"flight-replay/internal/playback"
	"flight-replay/internal/protocol"
	"flight-replay/internal/store"
	"flight-replay/internal/timemap"
	"flight-replay/internal/videosync"
)

// ErrorKind 把错误归类为事件分类
func ErrorKind(err error) protocol.Kind {
	switch {
	case errors.Is(err, store.ErrNoData):
		return protocol.KindInit
	case errors.Is(err, store.ErrNotFound), errors.Is(err, ErrMarkerNotFound):
		return protocol.KindLookup
	case errors.Is(err, timemap.ErrMalformedTable):
		return protocol.KindMapping
	case errors.Is(err, protocol.ErrInvalidCommand), errors.Is(err, playback.ErrInvalidSpeed),
		errors.Is(err, ErrVideoSyncActive), errors.Is(err, ErrClosed):
		return protocol.KindCommand
	}
	return videosync.ErrorKind(err)
}

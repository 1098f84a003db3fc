package protocol

// Kind 错误事件分类
type Kind string

const (
	KindInit        Kind = "init"
	KindLookup      Kind = "lookup"
	KindMapping     Kind = "mapping"
	KindOutOfRange  Kind = "out_of_range"
	KindBeforeStart Kind = "before_start"
	KindTimeout     Kind = "timeout"
	KindFetch       Kind = "fetch"
	KindCommand     Kind = "command"
)

// ErrorEvent 构造错误事件
func ErrorEvent(kind Kind, err error) Event {
	ev := Event{Type: EventError, Kind: kind}
	if err != nil {
		ev.Message = err.Error()
	}
	return ev
}

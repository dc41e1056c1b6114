package log

import "log/slog"

func WorkflowID[T ~uint](id T) slog.Attr {
	return slog.Uint64("workflow_id", uint64(id))
}

func StepID[T ~uint](id T) slog.Attr {
	return slog.Uint64("step_id", uint64(id))
}

func StepKind[T ~string](kind T) slog.Attr {
	return slog.String("step_kind", string(kind))
}

func Status[T ~string](status T) slog.Attr {
	return slog.String("status", string(status))
}

func Chain[T ~string](chain T) slog.Attr {
	return slog.String("chain", string(chain))
}

func Address(addr string) slog.Attr {
	return slog.String("address", addr)
}

func TxHash(hash string) slog.Attr {
	return slog.String("tx_hash", hash)
}

func Process(name string) slog.Attr {
	return slog.String("process", name)
}

func Error(err error) slog.Attr {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return slog.String("error", msg)
}

func ErrorString(msg string) slog.Attr {
	return slog.String("error", msg)
}

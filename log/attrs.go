package log

import "log/slog"

func ProcessID(id string) slog.Attr {
	return slog.String("process_instance_id", id)
}

func ClaimID(id string) slog.Attr {
	return slog.String("claim_id", id)
}

func TaskID(id string) slog.Attr {
	return slog.String("task_id", id)
}

func StepID[T ~string](id T) slog.Attr {
	return slog.String("step_id", string(id))
}

func Status[T ~string](status T) slog.Attr {
	return slog.String("status", string(status))
}

func Attempt(n int) slog.Attr {
	return slog.Int("attempt", n)
}

func Error(err error) slog.Attr {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return slog.String("error", msg)
}

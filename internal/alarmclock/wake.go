package alarmclock

import (
	"os"
	"sort"
	"strconv"
	"time"

	"brightsched/internal/storage"
)

// Waker programs the host to resume from suspend at t. A zero t clears it.
type Waker interface {
	SetWake(t time.Time) error
}

// RTCWaker writes epoch seconds to a Linux RTC wakealarm file. The kernel
// rejects a new value while one is set, so it is cleared first.
type RTCWaker struct {
	Path string
}

func (w RTCWaker) SetWake(t time.Time) error {
	if err := os.WriteFile(w.Path, []byte("0\n"), 0o644); err != nil {
		return err
	}
	if t.IsZero() {
		return nil
	}
	return os.WriteFile(w.Path, []byte(strconv.FormatInt(t.Unix(), 10)+"\n"), 0o644)
}

func sortByFireAt(out []storage.Occurrence) {
	sort.Slice(out, func(i, j int) bool {
		if !out[i].FireAt.Equal(out[j].FireAt) {
			return out[i].FireAt.Before(out[j].FireAt)
		}
		return out[i].Token < out[j].Token
	})
}

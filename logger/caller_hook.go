package logger

import (
	"runtime"
	"strings"

	"github.com/sirupsen/logrus"
)

const modulePath = "payeerflow/"

// callerHook points the entry's caller at the first frame outside the
// logging packages and tags entries that carry no component with the
// package they were logged from.
type callerHook struct {
	skip []string
}

func newCallerHook() *callerHook {
	return &callerHook{skip: []string{"sirupsen/logrus", modulePath + "logger."}}
}

func (h *callerHook) Levels() []logrus.Level {
	return logrus.AllLevels
}

func (h *callerHook) Fire(entry *logrus.Entry) error {
	frame, ok := h.callSite()
	if !ok {
		return nil
	}
	entry.Caller = &frame
	if _, tagged := entry.Data["component"]; !tagged {
		if component := componentOf(frame.Function); component != "" {
			entry.Data["component"] = component
		}
	}
	return nil
}

func (h *callerHook) callSite() (runtime.Frame, bool) {
	pcs := make([]uintptr, 32)
	n := runtime.Callers(3, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()
		if frame.Function != "" && !h.skipped(frame.Function) {
			return frame, true
		}
		if !more {
			return runtime.Frame{}, false
		}
	}
}

func (h *callerHook) skipped(function string) bool {
	if strings.HasPrefix(function, "runtime.") {
		return true
	}
	for _, s := range h.skip {
		if strings.Contains(function, s) {
			return true
		}
	}
	return false
}

// componentOf maps "payeerflow/internal/throttler.(*Throttler).Acquire" to
// "throttler". Functions outside the module have no component.
func componentOf(function string) string {
	if !strings.HasPrefix(function, modulePath) {
		return ""
	}
	pkg := function
	if slash := strings.LastIndex(pkg, "/"); slash >= 0 {
		pkg = pkg[slash+1:]
	}
	if dot := strings.Index(pkg, "."); dot >= 0 {
		pkg = pkg[:dot]
	}
	return pkg
}

package dbconn

import (
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
)

// callerTag renders a /* file.go:line */ prefix for the first stack frame
// that belongs to neither this package, database/sql, nor the runtime. That
// frame is the application call site that issued the query.
func callerTag() string {
	var pcs [24]uintptr
	n := runtime.Callers(2, pcs[:])
	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()
		if frame.File != "" && !plumbingFrame(frame.Function) {
			return fmt.Sprintf("/* %s:%d */ ", filepath.Base(frame.File), frame.Line)
		}
		if !more {
			return ""
		}
	}
}

func plumbingFrame(fn string) bool {
	return strings.HasPrefix(fn, "database/sql.") ||
		strings.HasPrefix(fn, "dbkit/pkg/dbconn.") ||
		strings.HasPrefix(fn, "runtime.")
}

// isSelect reports whether the statement is a read query worth tagging.
func isSelect(query string) bool {
	q := strings.TrimSpace(query)
	if len(q) < 4 {
		return false
	}
	head := strings.ToUpper(q[:min(6, len(q))])
	return strings.HasPrefix(head, "SELECT") || strings.HasPrefix(head, "WITH")
}

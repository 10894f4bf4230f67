package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
)

// testAppender sends entries to `tb.Log` so each line is attributed to the test that produced
// it, including under `t.Parallel()`.
type testAppender struct {
	tb testing.TB
}

// NewTestAppender returns an appender that logs through tb.
func NewTestAppender(tb testing.TB) Appender {
	return &testAppender{tb}
}

func (tapp *testAppender) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	tapp.tb.Helper()
	tapp.tb.Log(formatLine(entry, fields))
	return nil
}

func (tapp *testAppender) Sync() error {
	return nil
}

package logging

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
	"testing"

	"go.uber.org/zap/zaptest/observer"
	"go.viam.com/test"
)

type BasicStruct struct {
	X int
	y string
}

// assertLogMatches will fuzzy match log lines. Notably, this checks the time format, but ignores
// the exact time. And it expects a match on the filename, but the exact line number can be wrong.
func assertLogMatches(t *testing.T, actual *bytes.Buffer, expected string) {
	t.Helper()

	output, err := actual.ReadString('\n')
	test.That(t, err, test.ShouldBeNil)

	actualParts := strings.Split(strings.TrimSuffix(output, "\n"), "\t")
	expectedParts := strings.Split(expected, "\t")
	test.That(t, len(actualParts), test.ShouldEqual, len(expectedParts))
	// Use the length of the first string as a weak verification of checking that the result looks like a date.
	test.That(t, len(actualParts[0]), test.ShouldEqual, len(expectedParts[0]))
	for idx := 1; idx < len(expectedParts); idx++ {
		actualPart, expectedPart := actualParts[idx], expectedParts[idx]
		switch {
		case strings.HasSuffix(expectedPart, ".go:0"):
			actualFilename, actualLine, found := strings.Cut(actualPart, ":")
			test.That(t, found, test.ShouldBeTrue)
			test.That(t, actualFilename+":0", test.ShouldEqual, expectedPart)
			_, err := strconv.Atoi(actualLine)
			test.That(t, err, test.ShouldBeNil)
		case strings.HasPrefix(expectedPart, "{"):
			// JSON encoding of maps can be unpredictable. Compare as maps.
			expectedMap := make(map[string]any)
			test.That(t, json.Unmarshal([]byte(expectedPart), &expectedMap), test.ShouldBeNil)
			actualMap := make(map[string]any)
			test.That(t, json.Unmarshal([]byte(actualPart), &actualMap), test.ShouldBeNil)
			test.That(t, actualMap, test.ShouldResemble, expectedMap)
		default:
			test.That(t, actualPart, test.ShouldEqual, expectedPart)
		}
	}
}

func newBufferLogger(name string, level Level) (*impl, *bytes.Buffer) {
	notStdout := &bytes.Buffer{}
	return &impl{
		name:      name,
		level:     NewAtomicLevelAt(level),
		inUTC:     true,
		appenders: []Appender{NewWriterAppender(notStdout)},
	}, notStdout
}

func TestConsoleOutputFormat(t *testing.T) {
	logger, notStdout := newBufferLogger("", DEBUG)

	logger.Info("impl Info log")
	assertLogMatches(t, notStdout,
		`2023-10-30T09:12:09.459Z	INFO	logging/impl_test.go:0	impl Info log`)

	logger.Infof("impl %s log", "infof")
	assertLogMatches(t, notStdout,
		`2023-10-30T09:45:20.764Z	INFO	logging/impl_test.go:0	impl infof log`)

	logger.Warnw("impl logw", "key", "value", "BasicStruct", BasicStruct{1, "alice"})
	assertLogMatches(t, notStdout,
		`2023-10-30T13:19:45.806Z	WARN	logging/impl_test.go:0	impl logw	{"key":"value","BasicStruct":{"X":1}}`)

	logger.Debugw("unpaired", "lonely")
	assertLogMatches(t, notStdout,
		`2023-10-30T13:19:45.806Z	DEBUG	logging/impl_test.go:0	unpaired	{"lonely":"unpaired log key"}`)
}

func TestLevelFiltering(t *testing.T) {
	logger, notStdout := newBufferLogger("", WARN)

	logger.Debug("dropped")
	logger.Info("dropped")
	test.That(t, notStdout.Len(), test.ShouldEqual, 0)

	logger.Error("kept")
	assertLogMatches(t, notStdout,
		`2023-10-30T09:12:09.459Z	ERROR	logging/impl_test.go:0	kept`)

	logger.SetLevel(DEBUG)
	test.That(t, logger.GetLevel(), test.ShouldEqual, DEBUG)
	logger.Debugf("now %d", 1)
	assertLogMatches(t, notStdout,
		`2023-10-30T09:12:09.459Z	DEBUG	logging/impl_test.go:0	now 1`)
}

func TestSubloggerAndFields(t *testing.T) {
	logger, notStdout := newBufferLogger("lenswarp", INFO)

	sub := logger.Sublogger("undistort")
	sub.Info("hello")
	assertLogMatches(t, notStdout,
		`2023-10-30T09:12:09.459Z	INFO	lenswarp.undistort	logging/impl_test.go:0	hello`)

	withRun := sub.WithFields("run", "abc")
	withRun.Infow("frame", "index", 2)
	assertLogMatches(t, notStdout,
		`2023-10-30T09:12:09.459Z	INFO	lenswarp.undistort	logging/impl_test.go:0	frame	{"run":"abc","index":2}`)

	// The parent logger is unaffected by fields added to a child.
	sub.Info("plain")
	assertLogMatches(t, notStdout,
		`2023-10-30T09:12:09.459Z	INFO	lenswarp.undistort	logging/impl_test.go:0	plain`)
}

func TestObservedTestLogger(t *testing.T) {
	logger, logs := NewObservedTestLogger(t)
	logger.Warnw("skipping frame", "file", "a.png")
	logger.Sublogger("child").Info("child message")

	test.That(t, logs.FilterMessage("skipping frame").Len(), test.ShouldEqual, 1)
	entry := logs.FilterMessage("skipping frame").All()[0]
	test.That(t, entry.ContextMap()["file"], test.ShouldEqual, "a.png")
	child := logs.Filter(func(e observer.LoggedEntry) bool { return e.LoggerName == "child" })
	test.That(t, child.Len(), test.ShouldEqual, 1)
	test.That(t, child.All()[0].Message, test.ShouldEqual, "child message")
	test.That(t, logger.Sync(), test.ShouldBeNil)
}

func TestLevelFromString(t *testing.T) {
	for _, tc := range []struct {
		in    string
		level Level
	}{
		{"debug", DEBUG},
		{"INFO", INFO},
		{"Warn", WARN},
		{"error", ERROR},
	} {
		level, err := LevelFromString(tc.in)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, level, test.ShouldEqual, tc.level)
	}

	_, err := LevelFromString("loud")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "unknown log level")
}

type countingStringer struct {
	calls *int
}

func (c countingStringer) String() string {
	*c.calls++
	return "counted"
}

func TestFilteredCallsSkipFormatting(t *testing.T) {
	logger, notStdout := newBufferLogger("", WARN)
	calls := 0

	logger.Debugf("%v", countingStringer{&calls})
	logger.Info(countingStringer{&calls})
	test.That(t, calls, test.ShouldEqual, 0)
	test.That(t, notStdout.Len(), test.ShouldEqual, 0)

	logger.Warn(countingStringer{&calls})
	test.That(t, calls, test.ShouldEqual, 1)
	assertLogMatches(t, notStdout,
		`2023-10-30T09:12:09.459Z	WARN	logging/impl_test.go:0	counted`)
}

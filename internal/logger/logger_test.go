package logger_test

import (
	"bytes"
	"regexp"
	"testing"

	"github.com/oss-samples/blockfs/internal/logger"
	"github.com/stretchr/testify/suite"
)

type LoggerTestSuite struct {
	suite.Suite
	buf *bytes.Buffer
}

func TestLoggerTestSuite(t *testing.T) {
	suite.Run(t, new(LoggerTestSuite))
}

func (s *LoggerTestSuite) SetupTest() {
	s.buf = &bytes.Buffer{}
	logger.SetOutput(s.buf)
}

func (s *LoggerTestSuite) emitAll() {
	logger.Tracef("trace message")
	logger.Debugf("debug message")
	logger.Infof("info message")
	logger.Warnf("warning message")
	logger.Errorf("error message")
}

func (s *LoggerTestSuite) countMatches(pattern string) int {
	re := regexp.MustCompile(pattern)
	return len(re.FindAllString(s.buf.String(), -1))
}

func (s *LoggerTestSuite) TestOffSuppressesEverything() {
	logger.SetLevel("OFF")
	s.emitAll()
	s.Assert().Empty(s.buf.String())
}

func (s *LoggerTestSuite) TestErrorShowsOnlyError() {
	logger.SetLevel("ERROR")
	s.emitAll()
	out := s.buf.String()
	s.Assert().Contains(out, `severity=ERROR message="error message"`)
	s.Assert().NotContains(out, "warning message")
	s.Assert().NotContains(out, "info message")
	s.Assert().NotContains(out, "debug message")
	s.Assert().NotContains(out, "trace message")
}

func (s *LoggerTestSuite) TestWarningShowsWarningAndAboveOnly() {
	logger.SetLevel("WARNING")
	s.emitAll()
	out := s.buf.String()
	s.Assert().Contains(out, `severity=ERROR`)
	s.Assert().Contains(out, `severity=WARNING`)
	s.Assert().NotContains(out, "info message")
	s.Assert().NotContains(out, "debug message")
	s.Assert().NotContains(out, "trace message")
}

func (s *LoggerTestSuite) TestInfoAddsInfoLine() {
	logger.SetLevel("INFO")
	s.emitAll()
	out := s.buf.String()
	s.Assert().Contains(out, `severity=INFO message="info message"`)
	s.Assert().NotContains(out, "debug message")
	s.Assert().NotContains(out, "trace message")
}

func (s *LoggerTestSuite) TestDebugAddsDebugLine() {
	logger.SetLevel("DEBUG")
	s.emitAll()
	out := s.buf.String()
	s.Assert().Contains(out, `severity=DEBUG message="debug message"`)
	s.Assert().NotContains(out, "trace message")
}

func (s *LoggerTestSuite) TestTraceShowsEverything() {
	logger.SetLevel("TRACE")
	s.emitAll()
	s.Assert().Equal(5, s.countMatches(`severity=`))
}

func (s *LoggerTestSuite) TestFormatArgumentsAreSubstituted() {
	logger.SetLevel("INFO")
	logger.Infof("opened node %d with %d blocks", 7, 3)
	s.Assert().Contains(s.buf.String(), `message="opened node 7 with 3 blocks"`)
}

func (s *LoggerTestSuite) TestFatalPanicsAfterLogging() {
	logger.SetLevel("ERROR")
	s.Assert().Panics(func() {
		logger.Fatal("node table corrupted at index %d", 4)
	})
	s.Assert().Contains(s.buf.String(), `severity=ERROR message="node table corrupted at index 4"`)
}

// Package logging builds the zerolog logger used by every command and
// provides nested, timed step events for long-running batch work.
//
// A step logs once when it begins and once when it ends. Both events carry
// the step path (e.g. [1 3] for the third step under the first) so nested
// work can be followed in a flat JSON log:
//
//	{"level":"info","do":"begin","step":[1,2],"t_step":2000,"message":"stage upload 7..."}
//	{"level":"info","do":"end","step":[1,2],"elapsed":3000,"rows":1200,"message":"stage upload 7."}
//
// Durations are in milliseconds (zerolog's default unit).
package logging

import (
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// New returns a JSON logger on stdout, or a console logger in development.
func New(dev bool, level string) zerolog.Logger {
	var out io.Writer = os.Stdout
	if dev {
		out = zerolog.ConsoleWriter{Out: os.Stdout}
	}
	return NewWithWriter(out, level)
}

// NewWithWriter is New with an explicit destination.
func NewWithWriter(out io.Writer, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(out).Level(lvl).With().Timestamp().Logger()
}

// Steps tracks a stack of open steps for one unit of work. It is not safe
// for concurrent use; each batch owns its own Steps.
type Steps struct {
	log   zerolog.Logger
	clock func() time.Time
	seq   int
	stack []frame
}

type frame struct {
	seq   int
	start time.Time
}

// NewSteps creates a step tracker writing to log.
func NewSteps(log zerolog.Logger) *Steps {
	return &Steps{log: log, clock: time.Now}
}

// WithClock replaces the time source.
func (s *Steps) WithClock(clock func() time.Time) *Steps {
	s.clock = clock
	return s
}

// Step is one open step. Fields added before End are logged on the end event.
type Step struct {
	steps  *Steps
	msg    string
	path   []int
	start  time.Time
	fields map[string]interface{}
	closed bool
}

// Begin opens a nested step and logs its start.
func (s *Steps) Begin(msg string) *Step {
	now := s.clock()
	s.seq++
	s.stack = append(s.stack, frame{seq: s.seq, start: now})

	path := make([]int, len(s.stack))
	for i, f := range s.stack {
		path[i] = f.seq
	}

	s.log.Info().
		Str("do", "begin").
		Ints("step", path).
		Dur("t_step", now.Sub(s.stack[0].start)).
		Msg(msg + "...")

	return &Step{steps: s, msg: msg, path: path, start: now, fields: map[string]interface{}{}}
}

// Set attaches a field to the end event.
func (st *Step) Set(key string, value interface{}) *Step {
	st.fields[key] = value
	return st
}

// End closes the step, logging at error level when err is non-nil, and
// returns the elapsed time. Calling End twice is a no-op.
func (st *Step) End(err error) time.Duration {
	if st.closed {
		return 0
	}
	st.closed = true

	s := st.steps
	elapsed := s.clock().Sub(st.start)
	if n := len(s.stack); n > 0 {
		s.stack = s.stack[:n-1]
	}

	evt := s.log.Info()
	if err != nil {
		evt = s.log.Error().Err(err)
	}
	evt.
		Str("do", "end").
		Ints("step", st.path).
		Dur("elapsed", elapsed).
		Fields(st.fields).
		Msg(st.msg + ".")

	return elapsed
}

// Progress logs how far the step has got. With a known total it adds the
// percentage done and an estimate of the time left, extrapolated from the
// rate so far.
func (st *Step) Progress(done, total int64) {
	s := st.steps
	elapsed := s.clock().Sub(st.start)
	evt := s.log.Info().
		Str("do", "progress").
		Ints("step", st.path).
		Int64("done", done).
		Dur("elapsed", elapsed)
	if total > 0 {
		evt = evt.Int64("total", total).Float64("pct", 100*float64(done)/float64(total))
		if eta, ok := Remaining(elapsed, done, total); ok {
			evt = evt.Dur("eta", eta)
		}
	}
	evt.Msg(st.msg + ": " + strconv.FormatInt(done, 10) + " done")
}

// Remaining estimates the time left to reach total at the rate that took
// elapsed to reach done.
func Remaining(elapsed time.Duration, done, total int64) (time.Duration, bool) {
	if done <= 0 || total <= done {
		return 0, done > 0
	}
	perItem := float64(elapsed) / float64(done)
	return time.Duration(perItem * float64(total-done)), true
}

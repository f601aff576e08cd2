package services

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// MessageLevel classifies a Result message.
type MessageLevel string

const (
	LevelDebug   MessageLevel = "debug"
	LevelInfo    MessageLevel = "info"
	LevelWarning MessageLevel = "warning"
	LevelError   MessageLevel = "error"
)

// Message is one diagnostic line accumulated during an operation.
type Message struct {
	Level MessageLevel `json:"level" yaml:"level"`
	Text  string       `json:"text" yaml:"text"`
}

// Outcome is the type-independent view of a Result, used to merge results
// of different data types.
type Outcome interface {
	Succeeded() bool
	Failure() error
	Notes() []Message
}

// Result is the uniform return value of service operations. Expected failures
// are reported through Success and Err instead of a separate error return,
// and Messages carries warnings even when the operation succeeded.
type Result[T any] struct {
	Success  bool
	Data     T
	Err      error
	Messages []Message
}

// OK returns a successful result.
func OK[T any](data T) Result[T] {
	return Result[T]{Success: true, Data: data}
}

// Fail returns a failed result carrying err.
func Fail[T any](err error, data T) Result[T] {
	return Result[T]{Success: false, Data: data, Err: err}
}

func (r Result[T]) Succeeded() bool  { return r.Success }
func (r Result[T]) Failure() error   { return r.Err }
func (r Result[T]) Notes() []Message { return r.Messages }

func (r *Result[T]) add(level MessageLevel, format string, args ...interface{}) {
	text := format
	if len(args) > 0 {
		text = fmt.Sprintf(format, args...)
	}
	r.Messages = append(r.Messages, Message{Level: level, Text: text})
}

func (r *Result[T]) Debug(format string, args ...interface{}) { r.add(LevelDebug, format, args...) }
func (r *Result[T]) Info(format string, args ...interface{})  { r.add(LevelInfo, format, args...) }
func (r *Result[T]) Warn(format string, args ...interface{})  { r.add(LevelWarning, format, args...) }
func (r *Result[T]) Error(format string, args ...interface{}) { r.add(LevelError, format, args...) }

// Collect merges the messages of others into r. Any failed outcome marks r as
// failed; errors are combined so the first one stays primary.
func (r *Result[T]) Collect(others ...Outcome) {
	for _, o := range others {
		r.Messages = append(r.Messages, o.Notes()...)
		if !o.Succeeded() {
			r.Success = false
			err := o.Failure()
			if err == nil {
				err = errors.New("operation failed")
			}
			r.Err = errors.CombineErrors(r.Err, err)
		}
	}
}

// Abort marks r as failed with err wrapped by msg and records msg as an error
// message. It returns r for direct use in return statements.
func (r Result[T]) Abort(err error, format string, args ...interface{}) Result[T] {
	msg := fmt.Sprintf(format, args...)
	r.Success = false
	if err == nil {
		r.Err = errors.Newf("%s", msg)
	} else {
		r.Err = errors.Wrapf(err, "%s", msg)
	}
	r.add(LevelError, "%s", msg)
	return r
}

// HasErrors reports whether any error level message was recorded.
func (r Result[T]) HasErrors() bool {
	for _, m := range r.Messages {
		if m.Level == LevelError {
			return true
		}
	}
	return false
}

/*
Package stdlog provides a minimal logging interface so that sessions and
transports can log through nearly any logging implementation.
*/
package stdlog

import (
	"fmt"
	"io"
	"log"
	"os"
)

// StdLog is a minimal interface implemented by nearly every logging package,
// including the standard library's *log.Logger.
type StdLog interface {
	// Print logs a message.  Arguments are handled in the manner of fmt.Print.
	Print(v ...interface{})

	// Println logs a message.  Arguments are handled in the manner of
	// fmt.Println.
	Println(v ...interface{})

	// Printf logs a message.  Arguments are handled in the manner of
	// fmt.Printf.
	Printf(format string, v ...interface{})
}

// Default returns the logger used when none is configured: the standard
// library logger writing to stderr without timestamps.
func Default() StdLog {
	return log.New(os.Stderr, "", 0)
}

// Discard returns a logger that drops everything.
func Discard() StdLog {
	return log.New(io.Discard, "", 0)
}

type prefixed struct {
	l      StdLog
	prefix string
}

// WithPrefix returns a logger that puts prefix in front of every message
// written to l.
func WithPrefix(l StdLog, prefix string) StdLog {
	return &prefixed{l: l, prefix: prefix}
}

func (p *prefixed) Print(v ...interface{}) {
	p.l.Print(p.prefix + fmt.Sprint(v...))
}

func (p *prefixed) Println(v ...interface{}) {
	p.l.Print(p.prefix + fmt.Sprintln(v...))
}

func (p *prefixed) Printf(format string, v ...interface{}) {
	p.l.Print(p.prefix + fmt.Sprintf(format, v...))
}

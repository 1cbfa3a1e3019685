package logx

import (
	"time"

	"github.com/rs/zerolog"
)

// Field adds one key to a log event. Later fields with the same key win.
type Field func(e *zerolog.Event)

func String(k, v string) Field                 { return func(e *zerolog.Event) { e.Str(k, v) } }
func Strings(k string, v []string) Field       { return func(e *zerolog.Event) { e.Strs(k, v) } }
func Int(k string, v int) Field                { return func(e *zerolog.Event) { e.Int(k, v) } }
func Int64(k string, v int64) Field            { return func(e *zerolog.Event) { e.Int64(k, v) } }
func Bool(k string, v bool) Field              { return func(e *zerolog.Event) { e.Bool(k, v) } }
func Duration(k string, v time.Duration) Field { return func(e *zerolog.Event) { e.Dur(k, v) } }
func Time(k string, v time.Time) Field         { return func(e *zerolog.Event) { e.Time(k, v) } }
func Any(k string, v any) Field                { return func(e *zerolog.Event) { e.Interface(k, v) } }

// Err is a no-op for a nil error.
func Err(err error) Field {
	return func(e *zerolog.Event) {
		if err != nil {
			e.Err(err)
		}
	}
}

// Comp tags the component a logger belongs to.
func Comp(name string) Field { return String("comp", name) }

// ASN logs a network's autonomous system number; zero is omitted.
func ASN(asn int64) Field {
	return func(e *zerolog.Event) {
		if asn != 0 {
			e.Int64("asn", asn)
		}
	}
}

// IXLan logs an exchange LAN id; zero is omitted.
func IXLan(id int64) Field {
	return func(e *zerolog.Event) {
		if id != 0 {
			e.Int64("ixlan", id)
		}
	}
}

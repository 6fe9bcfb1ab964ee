// Package gorules defines lint rules run with ruleguard via golangci-lint.
//
// golangci-lint run will apply these rules.
package gorules

import (
	"github.com/quasilyte/go-ruleguard/dsl"
)

// xerrors wraps errors with stack traces; fmt and the stdlib errors package
// lose them.
//
//nolint:unused,deadcode,varnamelen
func xerrors(m dsl.Matcher) {
	m.Import("errors")
	m.Import("fmt")
	m.Import("golang.org/x/xerrors")

	m.Match("fmt.Errorf($*args)").
		Suggest("xerrors.Errorf($args)").
		Report("Use xerrors so the error carries a stack trace")

	m.Match("errors.New($msg)").
		Where(m["msg"].Type.Is("string")).
		Suggest("xerrors.New($msg)").
		Report("Use xerrors so the error carries a stack trace")
}

// Session deadlines and retry delays must run on an injected quartz.Clock,
// or tests cannot control them.
//
//nolint:unused,deadcode,varnamelen
func bareTimer(m dsl.Matcher) {
	m.Import("time")

	m.Match("time.NewTimer($d)").
		Report("Construct timers from an injected quartz.Clock so tests control time")
}

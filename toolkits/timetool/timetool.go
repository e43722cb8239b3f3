// Package timetool provides date and time tools: parse_relative_date turns expressions such
// as 明天下午3点 or "next friday" into absolute dates and current_time reports the clock.
package timetool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/skosovsky/agentsy"
)

// Tool names.
const (
	ParseRelativeDateName = "parse_relative_date"
	CurrentTimeName       = "current_time"
)

type options struct {
	now      func() time.Time
	location *time.Location
}

// Option configures the tools.
type Option func(*options)

// WithClock sets the source of the current time. Default: time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithLocation sets the time zone relative dates are resolved in. Default: the clock's own.
func WithLocation(loc *time.Location) Option {
	return func(o *options) { o.location = loc }
}

// ParseArgs are the arguments of parse_relative_date.
type ParseArgs struct {
	Input string `json:"input" jsonschema:"description=Relative or absolute date expression such as 明天下午3点 or next friday 9am"`
}

// Validate rejects blank input.
func (a ParseArgs) Validate() error {
	if strings.TrimSpace(a.Input) == "" {
		return errors.New("input must not be blank")
	}
	return nil
}

// CurrentTimeArgs are the arguments of current_time.
type CurrentTimeArgs struct {
	Timezone string `json:"timezone,omitempty" jsonschema:"description=IANA time zone such as Asia/Shanghai; defaults to the local zone"`
}

// CurrentTime is the result of current_time.
type CurrentTime struct {
	Datetime string `json:"datetime"`
	Timezone string `json:"timezone"`
	Weekday  string `json:"weekday"`
	Unix     int64  `json:"unix"`
}

// Tools returns parse_relative_date and current_time.
func Tools(opts ...Option) ([]agentsy.Tool, error) {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	now := func() time.Time {
		t := o.now()
		if o.location != nil {
			t = t.In(o.location)
		}
		return t
	}

	parse, err := agentsy.NewTypedTool(ParseRelativeDateName,
		"Convert a relative date expression (today, 后天, next monday, in 3 days) into an absolute date "+
			"formatted as YYYY-MM-DD HH:MM:SS.",
		func(_ context.Context, args ParseArgs) (string, error) {
			t, err := ParseRelativeDate(args.Input, now())
			if err != nil {
				return "", &agentsy.ClientError{Reason: err.Error(), Err: err}
			}
			return t.Format(Layout), nil
		})
	if err != nil {
		return nil, err
	}

	current, err := agentsy.NewTypedTool(CurrentTimeName,
		"Report the current date, time and weekday.",
		func(_ context.Context, args CurrentTimeArgs) (string, error) {
			t := now()
			if args.Timezone != "" {
				loc, err := time.LoadLocation(args.Timezone)
				if err != nil {
					return "", &agentsy.ClientError{Reason: fmt.Sprintf("unknown time zone %q", args.Timezone), Err: err}
				}
				t = t.In(loc)
			}
			out, err := json.Marshal(CurrentTime{
				Datetime: t.Format(Layout),
				Timezone: t.Location().String(),
				Weekday:  t.Weekday().String(),
				Unix:     t.Unix(),
			})
			return string(out), err
		})
	if err != nil {
		return nil, err
	}
	return []agentsy.Tool{parse, current}, nil
}

// Register adds the tools to reg.
func Register(reg *agentsy.Registry, opts ...Option) error {
	tools, err := Tools(opts...)
	if err != nil {
		return err
	}
	for _, t := range tools {
		if err := reg.RegisterTool(t); err != nil {
			return err
		}
	}
	return nil
}

// Copyright 2024 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

package retry

import "time"

const (
	defaultBaseDelay = 10 * time.Millisecond
	defaultMaxDelay  = 100 * time.Millisecond
	defaultMaxTries  = 3
)

// Option configures a retry policy.
type Option func(*options)

// IsRetryableErr reports whether a failed attempt may be tried again.
type IsRetryableErr func(error) bool

// NotifyFunc is called after a failed attempt that will be retried, with
// the attempt number starting at 1 and the delay before the next one.
type NotifyFunc func(err error, attempt int, next time.Duration)

type options struct {
	// maxTries is the total number of attempts, 0 means unlimited.
	maxTries    uint64
	baseDelay   time.Duration
	maxDelay    time.Duration
	isRetryable IsRetryableErr
	notify      NotifyFunc
}

func newOptions(opts []Option) *options {
	o := &options{
		maxTries:    defaultMaxTries,
		baseDelay:   defaultBaseDelay,
		maxDelay:    defaultMaxDelay,
		isRetryable: func(error) bool { return true },
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.maxDelay < o.baseDelay {
		o.maxDelay = o.baseDelay
	}
	return o
}

// WithBackoffBaseDelay sets the delay before the first retry.
func WithBackoffBaseDelay(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.baseDelay = d
		}
	}
}

// WithBackoffMaxDelay caps the delay between two attempts.
func WithBackoffMaxDelay(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.maxDelay = d
		}
	}
}

// WithMaxTries sets the total number of attempts. Values below 1 are ignored.
func WithMaxTries(tries int) Option {
	return func(o *options) {
		if tries > 0 {
			o.maxTries = uint64(tries)
		}
	}
}

// WithInfiniteTries retries until success, a non retryable error or ctx is done.
func WithInfiniteTries() Option {
	return func(o *options) {
		o.maxTries = 0
	}
}

// WithIsRetryableErr sets the retry predicate. By default every error is retried.
func WithIsRetryableErr(f IsRetryableErr) Option {
	return func(o *options) {
		if f != nil {
			o.isRetryable = f
		}
	}
}

// WithNotify registers a callback for failed attempts that are retried.
func WithNotify(f NotifyFunc) Option {
	return func(o *options) {
		o.notify = f
	}
}

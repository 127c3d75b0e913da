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

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pingcap/errors"
)

// Operation is the action that needs to be retried.
type Operation func() error

// Do executes the operation and retries it with exponential backoff until
// it succeeds, returns a non retryable error, exhausts the configured
// tries or ctx is done.
func Do(ctx context.Context, operation Operation, opts ...Option) error {
	o := newOptions(opts)

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = o.baseDelay
	exp.MaxInterval = o.maxDelay
	// The number of tries bounds the retry, not the elapsed time.
	exp.MaxElapsedTime = 0

	var b backoff.BackOff = exp
	if o.maxTries > 0 {
		b = backoff.WithMaxRetries(b, o.maxTries-1)
	}
	b = backoff.WithContext(b, ctx)

	attempt := 0
	err := backoff.RetryNotify(func() error {
		attempt++
		err := operation()
		if err != nil && !o.isRetryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, b, func(err error, next time.Duration) {
		if o.notify != nil {
			o.notify(err, attempt, next)
		}
	})
	return errors.Trace(err)
}

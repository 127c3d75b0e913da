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

package logutil

import (
	"regexp"
)

var (
	// user:password@ in a data source name.
	dsnPasswordPatterns = `([^:/@\s"]+:)([^@\s"]*)(@)`
	dsnPasswordRegexp   = regexp.MustCompile(dsnPasswordPatterns)

	// HideSensitive is used to replace sensitive information with `******` in log.
	HideSensitive = func(input string) string {
		return dsnPasswordRegexp.ReplaceAllString(input, "$1******$3")
	}
)

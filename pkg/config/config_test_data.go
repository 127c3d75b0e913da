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

package config

const (
	testCfgFull = `
status-addr = "127.0.0.1:8300"

[log]
level = "debug"
file = "/tmp/fedq.log"

[scheduler]
name = "query-pool"
max-workers = 8
keep-alive = "5s"
periodic-overrun = "coalesce"

[dispatcher]
fetch-size = 100
next-timeout = "30s"
prefetch = true
open-retries = 3

[transaction]
timeout = "1m"

[[sources]]
name = "orders"
type = "mysql"
dsn = "root@tcp(127.0.0.1:3306)/orders"

[[sources]]
name = "profiles"
type = "leveldb"
path = "/var/lib/fedq/profiles"

[[sources]]
name = "static"
type = "memory"

[[sources.tables]]
name = "regions"
columns = ["integer", "string"]
rows = [[1, "emea"], [2, "apac"]]
`

	testCfgUnknownItem = `
[scheduler]
max-workers = 8
max-threads = 8
`
)

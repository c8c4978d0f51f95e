package logstore

import "math"

// LSN is a per-stream, monotonically intended sequence number.
type LSN = int64

// InvalidLSN is the sentinel used for "no LSN" / "until the end".
const InvalidLSN LSN = math.MinInt64

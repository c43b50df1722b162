// Package naming derives the restart-safe identifiers that tie a cohort of
// replicated tasks together.
//
// A grouping token depends only on (stream, granularity, timestamp,
// partition). A process that restarts inside the same cycle window derives the
// same token and can rejoin the tasks it created before, without asking a
// registry for an id. Tokens repeat every cycle (every hour for MINUTE, every
// day for HOUR, every month for DAY) and are only unique within one stream.
package naming

import (
	"errors"
	"fmt"
	"time"

	"github.com/ChuLiYu/beam-orchestrator/pkg/types"
)

// ErrUnsupportedGranularity is returned when a token is requested for a
// granularity other than MINUTE, HOUR or DAY.
var ErrUnsupportedGranularity = errors.New("unsupported granularity for grouping token")

// GroupingToken formats "{stream}-{cycle:02d}-{partition:04d}".
func GroupingToken(stream string, granularity types.Granularity, ts time.Time, partition int) (string, error) {
	ts = ts.UTC()

	var cycle int
	switch granularity {
	case types.Minute:
		cycle = ts.Minute()
	case types.Hour:
		cycle = ts.Hour()
	case types.Day:
		cycle = ts.Day()
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedGranularity, granularity)
	}

	return fmt.Sprintf("%s-%02d-%04d", stream, cycle, partition), nil
}

// EndpointID names the firehose endpoint of one replicant.
func EndpointID(token string, replicant int) string {
	return fmt.Sprintf("%s-%04d", token, replicant)
}

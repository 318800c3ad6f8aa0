package framework

import (
	"fmt"
	"strings"

	"github.com/flare-foundation/go-flare-common/pkg/logger"
)

// cronLogger routes scheduler messages to the process logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	logger.Debugf("cron: %s%s", msg, formatKeysAndValues(keysAndValues))
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	logger.Errorf("cron: %s: %v%s", msg, err, formatKeysAndValues(keysAndValues))
}

func formatKeysAndValues(keysAndValues []interface{}) string {
	var b strings.Builder

	for i := 0; i < len(keysAndValues); i += 2 {
		if i+1 < len(keysAndValues) {
			fmt.Fprintf(&b, " %v=%v", keysAndValues[i], keysAndValues[i+1])
		} else {
			fmt.Fprintf(&b, " %v", keysAndValues[i])
		}
	}

	return b.String()
}

func closeQuietly(v interface{}) {
	switch c := v.(type) {
	case interface{ Close() error }:
		if err := c.Close(); err != nil {
			logger.Warnf("close: %v", err)
		}
	case interface{ Close() }:
		c.Close()
	}
}

package ssm

import "github.com/sirupsen/logrus"

// log carries VM lifecycle messages; gcLog traces the collector. GC
// tracing is Debug-level and compiled in unconditionally; SetDebug
// switches it on.
var (
	log   = logrus.New()
	gcLog = log.WithField("sub", "gc")
)

// SetDebug toggles debug-level logging for the whole package.
func SetDebug(enabled bool) {
	if enabled {
		log.SetLevel(logrus.DebugLevel)
	} else {
		log.SetLevel(logrus.InfoLevel)
	}
}

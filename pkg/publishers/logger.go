package publishers

import "github.com/samvad-hq/nexlink/internal/logger"

// Logger is the structured logging surface publishers write to.
type Logger = logger.Logger

func ensureLogger(log Logger) Logger {
	return logger.Ensure(log)
}

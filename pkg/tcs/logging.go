package tcs

import (
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// newPoolLogger builds the entry a pool logs through. A caller supplied logger keeps its own
// level, otherwise a new logger is created at config.LogLevel.
func newPoolLogger(config *PoolConfig, logger *logrus.Logger, poolID uuid.UUID) (*logrus.Entry, error) {
	if logger == nil {
		level, err := logrus.ParseLevel(config.LogLevel)
		if err != nil {
			return nil, err
		}

		logger = logrus.New()
		logger.SetLevel(level)
	}

	return logger.WithFields(logrus.Fields{
		"pool":        poolID.String(),
		"application": config.ApplicationName,
	}), nil
}

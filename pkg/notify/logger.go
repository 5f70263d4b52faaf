package notify

import (
	"github.com/ThreeDotsLabs/watermill"
	"github.com/rs/zerolog"
)

// pubsubLogger routes watermill's internal logging through the router's
// zerolog logger. Watermill reports routine pubsub traffic at info, which
// would drown the application log, so info lands at debug level here.
type pubsubLogger struct {
	logger zerolog.Logger
}

var _ watermill.LoggerAdapter = pubsubLogger{}

func (l pubsubLogger) Error(msg string, err error, fields watermill.LogFields) {
	l.logger.Error().Err(err).Fields(map[string]interface{}(fields)).Msg(msg)
}

func (l pubsubLogger) Info(msg string, fields watermill.LogFields) {
	l.logger.Debug().Fields(map[string]interface{}(fields)).Msg(msg)
}

func (l pubsubLogger) Debug(msg string, fields watermill.LogFields) {
	l.logger.Debug().Fields(map[string]interface{}(fields)).Msg(msg)
}

func (l pubsubLogger) Trace(msg string, fields watermill.LogFields) {
	l.logger.Trace().Fields(map[string]interface{}(fields)).Msg(msg)
}

func (l pubsubLogger) With(fields watermill.LogFields) watermill.LoggerAdapter {
	return pubsubLogger{logger: l.logger.With().Fields(map[string]interface{}(fields)).Logger()}
}

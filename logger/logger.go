package logger

import (
	"go.uber.org/zap"
)

// Tests and early init paths log into a nop logger until Init runs.
var log = zap.NewNop()

// Init installs the production logger. Returns the construction error so the
// caller can decide whether to run without structured logs.
func Init() error {
	l, err := zap.NewProduction()
	if err != nil {
		return err
	}
	log = l
	return nil
}

func Info(msg string, fields ...zap.Field) {
	log.Info(msg, fields...)
}

func Warn(msg string, fields ...zap.Field) {
	log.Warn(msg, fields...)
}

func Error(msg string, fields ...zap.Field) {
	log.Error(msg, fields...)
}

// AdminAction logs operator interventions (manual grants, revokes) in a
// fixed shape so they can be filtered out of the stream for review.
func AdminAction(adminID, action, targetUserID, params string) {
	log.Info("admin_action",
		zap.String("admin_id", adminID),
		zap.String("action", action),
		zap.String("target_user_id", targetUserID),
		zap.String("params", params),
	)
}

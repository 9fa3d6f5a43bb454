package logger

import (
	"go.uber.org/zap"
)

var (
	Log *zap.SugaredLogger

	nop = zap.NewNop().Sugar()
)

func InitLogger(development bool) error {
	var config zap.Config
	if development {
		config = zap.NewDevelopmentConfig()
	} else {
		config = zap.NewProductionConfig()
	}
	// Avisos de reuso anômalo podem sair a cada frame; amostragem evita flood.
	config.Sampling = &zap.SamplingConfig{
		Initial:    100,
		Thereafter: 100,
	}

	logger, err := config.Build()
	if err != nil {
		return err
	}

	Log = logger.Sugar()
	return nil
}

// L returns the global logger, or a no-op logger when InitLogger was never
// called. Library packages log through L so they work without setup.
func L() *zap.SugaredLogger {
	if Log == nil {
		return nop
	}
	return Log
}

func Sync() {
	if Log != nil {
		_ = Log.Sync()
	}
}

func WithFields(fields map[string]interface{}) *zap.SugaredLogger {
	keyValuePairs := make([]interface{}, 0, len(fields)*2)
	for k, v := range fields {
		keyValuePairs = append(keyValuePairs, k, v)
	}

	return L().With(keyValuePairs...)
}

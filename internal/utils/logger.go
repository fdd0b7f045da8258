package utils

import "go.uber.org/zap"

// NewLogger builds the process logger. Development mode gets the console
// encoder and debug level; everything else gets zap's production preset.
func NewLogger(env string) (*zap.Logger, error) {
	if env == "development" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

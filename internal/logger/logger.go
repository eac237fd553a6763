package logger

import (
	"strings"

	"go.uber.org/zap"
)

// New returns a JSON production logger for env "production" and a development logger otherwise.
func New(env string) (*zap.Logger, error) {
	if strings.EqualFold(env, "production") {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

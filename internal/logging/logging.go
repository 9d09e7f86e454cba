package logging

import "go.uber.org/zap"

// New builds the process logger. Development mode gets console encoding.
func New(dev bool) (*zap.Logger, error) {
	if dev {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

package main

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/Chrisvolcano/supervolcano-teleops-sub000/internal/logging"
)

// asynqLogger routes asynq's internal logging into zerolog.
type asynqLogger struct {
	base *zerolog.Logger
}

func newAsynqLogger(logg *logging.Logger) *asynqLogger {
	z := logg.Zerolog().With().Str("component", "asynq").Logger()
	return &asynqLogger{base: &z}
}

func (l *asynqLogger) Debug(args ...interface{}) { l.base.Debug().Msg(fmt.Sprint(args...)) }
func (l *asynqLogger) Info(args ...interface{})  { l.base.Info().Msg(fmt.Sprint(args...)) }
func (l *asynqLogger) Warn(args ...interface{})  { l.base.Warn().Msg(fmt.Sprint(args...)) }
func (l *asynqLogger) Error(args ...interface{}) { l.base.Error().Msg(fmt.Sprint(args...)) }
func (l *asynqLogger) Fatal(args ...interface{}) { l.base.Fatal().Msg(fmt.Sprint(args...)) }

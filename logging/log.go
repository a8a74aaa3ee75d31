// Copyright (c) 2023-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.

// Package logging provides the structured logging boundary shared by every
// component of the hub. It mirrors the shape of pluginapi.LogService so that
// call sites read the same way the teacher codebase's did, without pulling in
// a plugin host.
package logging

import (
	"context"
	"log/slog"
	"os"
)

// LogService is the leveled, structured logging contract every component
// depends on. Arguments after msg are alternating key/value pairs.
type LogService interface {
	Debug(msg string, keyValuePairs ...any)
	Info(msg string, keyValuePairs ...any)
	Warn(msg string, keyValuePairs ...any)
	Error(msg string, keyValuePairs ...any)
}

type slogService struct {
	logger *slog.Logger
}

// NewSlog returns a LogService backed by log/slog, writing JSON lines to w.
func NewSlog(w *os.File, level slog.Level) LogService {
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	return &slogService{logger: slog.New(h)}
}

func (s *slogService) Debug(msg string, kv ...any) {
	s.logger.Log(context.Background(), slog.LevelDebug, msg, kv...)
}

func (s *slogService) Info(msg string, kv ...any) {
	s.logger.Log(context.Background(), slog.LevelInfo, msg, kv...)
}

func (s *slogService) Warn(msg string, kv ...any) {
	s.logger.Log(context.Background(), slog.LevelWarn, msg, kv...)
}

func (s *slogService) Error(msg string, kv ...any) {
	s.logger.Log(context.Background(), slog.LevelError, msg, kv...)
}

// Noop is a LogService that discards everything; useful in tests.
type Noop struct{}

func NewNoop() LogService { return Noop{} }

func (Noop) Debug(string, ...any) {}
func (Noop) Info(string, ...any)  {}
func (Noop) Warn(string, ...any)  {}
func (Noop) Error(string, ...any) {}

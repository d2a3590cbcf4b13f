// Package mlog is the multiplexer's logging seam: a single package-level
// logrus.Logger wired once at the package boundary, with every internal
// component calling through it rather than constructing its own.
package mlog

import "github.com/sirupsen/logrus"

// Log is the logger used by every package in this module. Replace its
// Out/Formatter/Level from an embedding application; the multiplexer
// itself never changes it.
var Log = logrus.StandardLogger()

// WithHandler returns an entry pre-populated with the fd/name fields
// used on every handler-scoped log line.
func WithHandler(fd int, name string) *logrus.Entry {
	return Log.WithFields(logrus.Fields{"fd": fd, "name": name})
}

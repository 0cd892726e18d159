// Package log provides loggers for graph components.
package log

import (
	"os"
	"strconv"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	debug bool

	mu    sync.Mutex
	level = logrus.InfoLevel
)

func init() {
	var err error
	debug, err = strconv.ParseBool(os.Getenv("GRAPH_DEBUG"))
	if err != nil {
		debug = false
	}
}

// SetLevel sets the level of loggers created afterwards. GRAPH_DEBUG
// overrides it.
func SetLevel(l logrus.Level) {
	mu.Lock()
	defer mu.Unlock()
	level = l
}

// ParseLevel sets the level from its name.
func ParseLevel(name string) error {
	l, err := logrus.ParseLevel(name)
	if err != nil {
		return err
	}
	SetLevel(l)
	return nil
}

// GetLogger returns a new logger instance.
func GetLogger() *logrus.Logger {
	l := logrus.New()
	mu.Lock()
	l.SetLevel(level)
	mu.Unlock()
	if debug {
		l.SetLevel(logrus.DebugLevel)
	}
	return l
}

package log_test

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"

	"pipelined.dev/graph/log"
)

func TestGetLogger(t *testing.T) {
	assert.NoError(t, log.ParseLevel("warn"))
	l := log.GetLogger()
	assert.Equal(t, logrus.WarnLevel, l.GetLevel())

	assert.Error(t, log.ParseLevel("loud"))
	log.SetLevel(logrus.InfoLevel)
	assert.Equal(t, logrus.InfoLevel, log.GetLogger().GetLevel())
}

package logrusadapter

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
)

func TestLogrusLogger(t *testing.T) {
	base, hook := test.NewNullLogger()
	base.SetLevel(logrus.DebugLevel)
	l := New(base)

	l.Debugf("key %s", "a")
	l.Infof("info")
	l.Warnf("warn")
	l.Errorf("error %d", 2)

	entries := hook.AllEntries()
	if assert.Len(t, entries, 4) {
		assert.Equal(t, logrus.DebugLevel, entries[0].Level)
		assert.Equal(t, "key a", entries[0].Message)
		assert.Equal(t, "throttle", entries[0].Data["component"])
		assert.Equal(t, logrus.InfoLevel, entries[1].Level)
		assert.Equal(t, logrus.WarnLevel, entries[2].Level)
		assert.Equal(t, "error 2", entries[3].Message)
	}
}

package graphstore

import "go.uber.org/zap"

// badgerLogger routes badger's printf logging into zap. Info is demoted to
// debug since badger reports compaction chatter at that level.
type badgerLogger struct {
	s *zap.SugaredLogger
}

func newBadgerLogger(l *zap.Logger) *badgerLogger {
	return &badgerLogger{s: l.Named("badger").Sugar()}
}

func (b *badgerLogger) Errorf(f string, v ...interface{})   { b.s.Errorf(f, v...) }
func (b *badgerLogger) Warningf(f string, v ...interface{}) { b.s.Warnf(f, v...) }
func (b *badgerLogger) Infof(f string, v ...interface{})    { b.s.Debugf(f, v...) }
func (b *badgerLogger) Debugf(f string, v ...interface{})   { b.s.Debugf(f, v...) }

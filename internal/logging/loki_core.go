package logging

import (
	"go.uber.org/zap/zapcore"

	"github.com/zks-samoprocjena/compliance-engine/internal/loki"
)

// lokiCore is a zapcore.Core that pushes every log entry it sees to Loki in
// addition to whatever core it's teed with, so A2's "optional Loki shipping"
// rides the same zap.Logger every component already takes as a constructor
// argument instead of a separate shipping path.
type lokiCore struct {
	client *loki.Client
	level  zapcore.LevelEnabler
	fields []zapcore.Field
	enc    zapcore.Encoder
}

func newLokiCore(client *loki.Client, level zapcore.LevelEnabler) zapcore.Core {
	encCfg := zapcore.EncoderConfig{
		MessageKey:     "msg",
		LevelKey:       "level",
		TimeKey:        "ts",
		NameKey:        "logger",
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
	}
	return &lokiCore{client: client, level: level, enc: zapcore.NewJSONEncoder(encCfg)}
}

func (c *lokiCore) Enabled(lvl zapcore.Level) bool { return c.level.Enabled(lvl) }

func (c *lokiCore) With(fields []zapcore.Field) zapcore.Core {
	clone := *c
	clone.fields = append(append([]zapcore.Field{}, c.fields...), fields...)
	return &clone
}

func (c *lokiCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func (c *lokiCore) Write(ent zapcore.Entry, fields []zapcore.Field) error {
	buf, err := c.enc.EncodeEntry(ent, append(append([]zapcore.Field{}, c.fields...), fields...))
	if err != nil {
		return err
	}
	line := buf.String()
	buf.Free()

	return c.client.Push(loki.Batch{Entries: []loki.Entry{{
		Timestamp: ent.Time,
		Line:      line,
		Labels:    map[string]string{"level": ent.Level.String()},
	}}})
}

func (c *lokiCore) Sync() error { return nil }

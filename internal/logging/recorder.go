package logging

import (
	"context"
	"sync"
)

// Record is a log call captured by Recorder.
type Record struct {
	Level   string
	Message string
	KeyVals []interface{}
}

// Value returns the value logged for key, or nil.
func (r Record) Value(key string) interface{} {
	for i := 0; i+1 < len(r.KeyVals); i += 2 {
		if r.KeyVals[i] == key {
			return r.KeyVals[i+1]
		}
	}
	return nil
}

// Recorder captures log calls for tests.
type Recorder struct {
	mu      sync.Mutex
	records []Record
}

// NewRecorder creates an empty Recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) Debug(ctx context.Context, msg string, keyvals ...interface{}) {
	r.add("debug", msg, keyvals)
}

func (r *Recorder) Info(ctx context.Context, msg string, keyvals ...interface{}) {
	r.add("info", msg, keyvals)
}

func (r *Recorder) Warn(ctx context.Context, msg string, keyvals ...interface{}) {
	r.add("warn", msg, keyvals)
}

func (r *Recorder) Error(ctx context.Context, msg string, keyvals ...interface{}) {
	r.add("error", msg, keyvals)
}

func (r *Recorder) add(level, msg string, keyvals []interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, Record{Level: level, Message: msg, KeyVals: keyvals})
}

// Records returns a copy of the captured records.
func (r *Recorder) Records() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Record(nil), r.records...)
}

// Level returns the captured records of one level.
func (r *Recorder) Level(level string) []Record {
	var out []Record
	for _, rec := range r.Records() {
		if rec.Level == level {
			out = append(out, rec)
		}
	}
	return out
}

// Find returns the first record with the given message.
func (r *Recorder) Find(msg string) (Record, bool) {
	for _, rec := range r.Records() {
		if rec.Message == msg {
			return rec, true
		}
	}
	return Record{}, false
}

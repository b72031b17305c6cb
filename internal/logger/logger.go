// Package logger keeps a bounded in-memory feed of ledger activity: who
// proposed or approved what, and which calls were refused. The feed backs the
// activity websocket and is not a substitute for the operational log.
package logger

import (
	"sync"
	"time"
)

// Message is a single activity line.
type Message struct {
	Seq       uint64    `json:"seq"`
	Timestamp time.Time `json:"timestamp"`
	Text      string    `json:"text"`
	Level     string    `json:"level"` // info, warning, error
}

// Logger holds the most recent maxSize messages.
type Logger struct {
	mu       sync.RWMutex
	messages []Message
	maxSize  int
	seq      uint64
	now      func() time.Time
}

// New creates a feed that keeps at most maxSize messages.
func New(maxSize int) *Logger {
	if maxSize <= 0 {
		maxSize = 200
	}
	return &Logger{
		messages: make([]Message, 0, maxSize),
		maxSize:  maxSize,
		now:      time.Now,
	}
}

// Log appends a message and returns its sequence number.
func (l *Logger) Log(level, text string) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.seq++
	l.messages = append(l.messages, Message{
		Seq:       l.seq,
		Timestamp: l.now().UTC(),
		Text:      text,
		Level:     level,
	})
	if len(l.messages) > l.maxSize {
		l.messages = append(l.messages[:0], l.messages[len(l.messages)-l.maxSize:]...)
	}
	return l.seq
}

func (l *Logger) Info(text string) {
	l.Log("info", text)
}

func (l *Logger) Warning(text string) {
	l.Log("warning", text)
}

func (l *Logger) Error(text string) {
	l.Log("error", text)
}

// GetRecent returns the most recent n messages (newest first)
func (l *Logger) GetRecent(n int) []Message {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if n > len(l.messages) {
		n = len(l.messages)
	}
	result := make([]Message, n)
	for i := 0; i < n; i++ {
		result[i] = l.messages[len(l.messages)-1-i]
	}
	return result
}

// After returns messages with a sequence greater than seq, oldest first.
// Messages that were evicted are silently skipped.
func (l *Logger) After(seq uint64) []Message {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var out []Message
	for _, m := range l.messages {
		if m.Seq > seq {
			out = append(out, m)
		}
	}
	return out
}

// LastSeq returns the sequence number of the newest message.
func (l *Logger) LastSeq() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.seq
}

// Package handoff carries a conversation across the process boundary to
// the voice-native specialist worker. The two processes never share
// memory; continuity crosses through the dispatch metadata string and the
// pending-question value encoded in it.
package handoff

import (
	"net/url"
	"strings"
)

// Metadata keys on the dispatch wire.
const (
	keySession           = "session"
	keyQuestion          = "question"
	keyReturnFromEnglish = "return_from_english"
)

// Metadata is the decoded form of a dispatch metadata string.
//
// Wire format: key:value pairs joined by '|'. Values are percent-encoded
// so delimiter characters inside a value round-trip; the decoder also
// accepts legacy unescaped values.
type Metadata struct {
	// SessionID correlates the dispatched worker with the conversation it
	// resumes (outbound handoff to the voice-native specialist).
	SessionID string

	// ReturnFromEnglish carries the session ID on the reverse handoff,
	// when the voice-native specialist hands back to the pipeline worker.
	ReturnFromEnglish string

	// Question is the pending question the activated specialist should
	// proactively answer.
	Question string
}

// SessionRef returns whichever session correlation ID is present.
func (m Metadata) SessionRef() string {
	if m.ReturnFromEnglish != "" {
		return m.ReturnFromEnglish
	}
	return m.SessionID
}

// IsReturn reports whether this is the reverse handoff back from the
// voice-native specialist.
func (m Metadata) IsReturn() bool {
	return m.ReturnFromEnglish != ""
}

// Encode serializes the metadata for a dispatch request. Pairs appear in
// a stable order; empty fields are omitted.
func (m Metadata) Encode() string {
	pairs := make([]string, 0, 3)
	appendPair := func(key, value string) {
		if value == "" {
			return
		}
		pairs = append(pairs, key+":"+url.QueryEscape(value))
	}
	appendPair(keySession, m.SessionID)
	appendPair(keyReturnFromEnglish, m.ReturnFromEnglish)
	appendPair(keyQuestion, m.Question)
	return strings.Join(pairs, "|")
}

// DecodeMetadata parses a dispatch metadata string. Malformed input
// degrades to the zero Metadata (no prior session, no pending question)
// rather than failing the worker: pairs without a colon are skipped,
// unknown keys are ignored, and a value that is not valid percent-encoding
// is taken literally for compatibility with unescaped senders.
func DecodeMetadata(raw string) Metadata {
	var m Metadata
	for _, pair := range strings.Split(raw, "|") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		key, value, ok := strings.Cut(pair, ":")
		if !ok {
			continue
		}
		if unescaped, err := url.QueryUnescape(value); err == nil {
			value = unescaped
		}
		switch key {
		case keySession:
			m.SessionID = value
		case keyReturnFromEnglish:
			m.ReturnFromEnglish = value
		case keyQuestion:
			m.Question = value
		}
	}
	return m
}

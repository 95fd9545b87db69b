package handoff

import (
	"github.com/edulive-ai/tutorlive/pkg/tutor/session"
)

// ResumeState reconstructs the session state in a worker process that was
// dispatched into an existing conversation. The prior session ID is kept
// whenever the metadata carries one; a fresh ID is generated only for a
// conversation with no prior session. Seeding a pending question arms
// suppression of exactly one synthetic user turn, because proactively
// answering the question echoes it back through the event stream as if
// the student had just said it.
func ResumeState(meta Metadata, studentIdentity, roomName, subject string) *session.State {
	st := session.NewState(studentIdentity, roomName)
	if id := meta.SessionRef(); id != "" {
		st.SessionID = id
	}
	if subject != "" {
		st.RouteTo(subject)
	}
	if meta.Question != "" {
		st.SeedPendingQuestion()
	}
	return st
}

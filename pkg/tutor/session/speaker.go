package session

// Transcript roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// SpeakerStudent is the published speaker for every user-role turn.
const SpeakerStudent = "student"

// ResolveSpeaker maps a turn role to the published speaker attribution.
//
// Assistant turns resolve to SpeakingAgent when set, then CurrentSubject,
// then the default root identity. CurrentSubject alone is not enough: it
// flips at routing-decision time, while the spoken attribution must lag
// until the incoming specialist actually activates.
func ResolveSpeaker(s *State, role string) string {
	if role == RoleUser {
		return SpeakerStudent
	}
	if s == nil {
		return DefaultAgent
	}
	if s.SpeakingAgent != "" {
		return s.SpeakingAgent
	}
	if s.CurrentSubject != "" {
		return s.CurrentSubject
	}
	return DefaultAgent
}

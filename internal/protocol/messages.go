package protocol

import "time"

// VoiceState mirrors the assistant state broadcast on every change.
type VoiceState struct {
	Listening  bool      `json:"listening"`
	Speaking   bool      `json:"speaking"`
	Supported  bool      `json:"supported"`
	Transcript string    `json:"transcript"`
	Timestamp  time.Time `json:"timestamp"`
}

// Transcript is a finalized recognition result.
type Transcript struct {
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// VoiceError reports a recognition error code.
type VoiceError struct {
	Code      string    `json:"code"`
	Timestamp time.Time `json:"timestamp"`
}

// Answer is an assistant reply produced for a question.
type Answer struct {
	Question  string    `json:"question"`
	Answer    string    `json:"answer"`
	Source    string    `json:"source"` // voice, text
	Timestamp time.Time `json:"timestamp"`
}

// SpeakRequest asks the runtime to speak Text.
type SpeakRequest struct {
	Text string `json:"text"`
}

// ListenControl drives the recognition session.
type ListenControl struct {
	Action string `json:"action"` // start, stop, toggle
}

// Question submits a typed question to the chat session.
type Question struct {
	Text string `json:"text"`
}

const (
	ListenStart  = "start"
	ListenStop   = "stop"
	ListenToggle = "toggle"
)

const (
	SubjectVoiceState      = "voice.state"
	SubjectTranscriptFinal = "voice.transcript.final"
	SubjectVoiceError      = "voice.error"
	SubjectChatAnswer      = "chat.answer"

	SubjectSpeakRequest  = "voice.speak.request"
	SubjectListenControl = "voice.listen.control"
	SubjectChatQuestion  = "chat.question"
)

package model

import "time"

// ConversationExport is the top-level JSON structure written by the export command.
type ConversationExport struct {
	ClientID      string         `json:"client_id"`
	ExportedAt    time.Time      `json:"exported_at"`
	Conversations []Conversation `json:"conversations"`
	// Session is the live autosave slot at export time.
	Session []Message `json:"session"`
}

package store

import (
	"context"
	"sort"

	"github.com/pavelanni/tayyari/internal/model"
)

// Export builds the export document for this client: every snapshot, oldest
// first, plus the live autosave slot.
func (s *ConversationStore) Export(ctx context.Context) model.ConversationExport {
	conversations := s.ListRecentConversations(ctx, 0)
	sort.SliceStable(conversations, func(i, j int) bool {
		return conversations[i].Timestamp < conversations[j].Timestamp
	})

	return model.ConversationExport{
		ClientID:      s.clientID,
		ExportedAt:    s.now().UTC(),
		Conversations: conversations,
		Session:       s.loadSlot(ctx),
	}
}

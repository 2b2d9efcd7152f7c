package messaging

import (
	"context"
	"fmt"

	"github.com/opsdesk/opsdesk/internal/authclient"
)

// UnreadCount computes the number of messages not yet acknowledged locally.
func UnreadCount(ctx context.Context, messages []authclient.Message, store ReadReceiptStore) (int, error) {
	unread := 0
	for _, message := range messages {
		acknowledged, checkErr := store.IsRead(ctx, message.ID)
		if checkErr != nil {
			return 0, fmt.Errorf("messaging.unread_count: %w", checkErr)
		}
		if !acknowledged {
			unread++
		}
	}
	return unread, nil
}

// FilterUnread returns the messages not yet acknowledged locally, keeping
// their arrival order.
func FilterUnread(ctx context.Context, messages []authclient.Message, store ReadReceiptStore) ([]authclient.Message, error) {
	unread := make([]authclient.Message, 0, len(messages))
	for _, message := range messages {
		acknowledged, checkErr := store.IsRead(ctx, message.ID)
		if checkErr != nil {
			return nil, fmt.Errorf("messaging.filter_unread: %w", checkErr)
		}
		if !acknowledged {
			unread = append(unread, message)
		}
	}
	return unread, nil
}

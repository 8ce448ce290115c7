package poll

import (
	"encoding/json"
	"fmt"

	"github.com/votefore/livepoll/internal/domain"
)

// Store layout: sessions live under polls/<id>, receipts under a sibling
// tree poll_responses/<id>/<receipt-id>.

func SessionPath(sessionID string) string {
	return "polls/" + sessionID
}

func ReceiptPath(sessionID, receiptID string) string {
	return "poll_responses/" + sessionID + "/" + receiptID
}

// Decode parses a stored session value. nil input decodes to nil, the
// absent-session case transactions must handle.
func Decode(b []byte) (*domain.Session, error) {
	if b == nil {
		return nil, nil
	}

	var s domain.Session
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("poll: decode session: %w", err)
	}
	return &s, nil
}

func Encode(s *domain.Session) ([]byte, error) {
	b, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("poll: encode session: %w", err)
	}
	return b, nil
}

func EncodeReceipt(r *domain.Receipt) ([]byte, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("poll: encode receipt: %w", err)
	}
	return b, nil
}

package notify

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Kind string

const (
	KindConfirmation   Kind = "confirmation"
	KindRecommendation Kind = "recommendation"
	KindWelcome        Kind = "welcome"
)

// Intent is one notification to carry out. It travels as JSON over the
// broker and is executed at most once per ID.
type Intent struct {
	ID         uuid.UUID   `json:"id"`
	Kind       Kind        `json:"kind"`
	OrderID    uuid.UUID   `json:"order_id"`
	UserID     uuid.UUID   `json:"user_id"`
	Email      string      `json:"email,omitempty"`
	ProductIDs []uuid.UUID `json:"product_ids,omitempty"`
	CreatedAt  time.Time   `json:"created_at"`
}

func (in Intent) Encode() ([]byte, error) {
	return json.Marshal(in)
}

func Decode(data []byte) (Intent, error) {
	var in Intent
	if err := json.Unmarshal(data, &in); err != nil {
		return Intent{}, fmt.Errorf("decode intent: %w", err)
	}
	if in.ID == uuid.Nil {
		return Intent{}, fmt.Errorf("decode intent: missing id")
	}
	switch in.Kind {
	case KindConfirmation, KindRecommendation, KindWelcome:
	default:
		return Intent{}, fmt.Errorf("decode intent: unknown kind %q", in.Kind)
	}
	return in, nil
}

package notify

import "time"

// Envelope is the packet pushed to a client over its websocket.
// It is built, serialized and forgotten; nothing persists it.
type Envelope struct {
	Type       string    `json:"type"`
	Title      string    `json:"title"`
	Body       string    `json:"body"`
	RelatedID  int64     `json:"related_id,omitempty"`
	SenderID   int64     `json:"sender_id,omitempty"`
	SenderName string    `json:"sender_name,omitempty"`
	SenderFace string    `json:"sender_face,omitempty"`
	ImageURL   string    `json:"image_url,omitempty"`
	TS         time.Time `json:"ts"`
}

// Envelope types. Treat these as a wire contract with the clients.
const (
	TypeWelcome        = "welcome"
	TypeAuditPassed    = "audit_passed"
	TypeAuditRejected  = "audit_rejected"
	TypePendingRecipe  = "pending_recipe"
	TypeRecipeWithdraw = "recipe_withdraw"
	TypeChatMessage    = "chat_message"
	TypeNewFollower    = "new_follower"
	TypeNewComment     = "new_comment"
	TypeCommentLiked   = "comment_liked"
	TypeCommentReply   = "comment_reply"
	TypeForcedLogout   = "forced_logout"
)

// previewLimit bounds free-text bodies (chat messages, comments)
// carried inside an envelope.
const previewLimit = 50

func preview(s string) string {
	r := []rune(s)
	if len(r) <= previewLimit {
		return s
	}
	return string(r[:previewLimit]) + "..."
}

// stamp fills TS if the builder left it zero.
func (e *Envelope) stamp() {
	if e.TS.IsZero() {
		e.TS = time.Now()
	}
}

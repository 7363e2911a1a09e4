package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"recipeshare/services/rs-realtime/internal/metrics"
	"recipeshare/services/rs-realtime/internal/repo"
)

// LocalSender delivers a payload to a uid connected to this node.
// False means "not reachable here", never an error.
type LocalSender interface {
	Send(uid int64, payload []byte) bool
}

// Directory is the slice of the user store the router needs.
type Directory interface {
	Profile(ctx context.Context, uid int64) (*repo.Profile, error)
	ModeratorIDs(ctx context.Context) ([]int64, error)
}

// OnlineSource enumerates currently-live uids across all nodes.
type OnlineSource interface {
	OnlineIDs(ctx context.Context) ([]int64, error)
}

// Router builds envelopes for domain events and pushes them out.
// Delivery is best-effort everywhere: a recipient being offline or a
// transport hiccup must never fail the business operation that
// triggered the notification.
type Router struct {
	local  LocalSender
	users  Directory
	online OnlineSource
	log    *zap.Logger
}

func NewRouter(local LocalSender, users Directory, online OnlineSource, log *zap.Logger) *Router {
	if log == nil {
		log = zap.NewNop()
	}
	return &Router{local: local, users: users, online: online, log: log}
}

// SendToUser serializes the envelope and hands it to the local
// registry. Returns false when the uid has no open connection on this
// node (it may be reachable on another one, or offline).
func (r *Router) SendToUser(uid int64, env Envelope) bool {
	env.stamp()
	b, err := json.Marshal(env)
	if err != nil {
		r.log.Warn("envelope marshal failed", zap.String("type", env.Type), zap.Error(err))
		return false
	}
	if !r.local.Send(uid, b) {
		metrics.PushOffline.Inc()
		r.log.Debug("recipient not reachable locally", zap.Int64("uid", uid), zap.String("type", env.Type))
		return false
	}
	metrics.PushOK.Inc()
	return true
}

// BroadcastToModerators fans an envelope out to every active
// moderator/admin. Lookup failures are logged and swallowed.
func (r *Router) BroadcastToModerators(ctx context.Context, env Envelope) {
	ids, err := r.users.ModeratorIDs(ctx)
	if err != nil {
		r.log.Warn("moderator enumeration failed", zap.Error(err))
		return
	}
	for _, uid := range ids {
		r.SendToUser(uid, env)
	}
}

// BroadcastToOnline fans an envelope out to every uid the presence
// tracker currently believes is live.
func (r *Router) BroadcastToOnline(ctx context.Context, env Envelope) {
	ids, err := r.online.OnlineIDs(ctx)
	if err != nil {
		r.log.Warn("online enumeration failed", zap.Error(err))
		return
	}
	for _, uid := range ids {
		r.SendToUser(uid, env)
	}
}

// --- per-event builders ---

func (r *Router) AuditPassed(authorUID, recipeID int64, recipeTitle string) {
	r.SendToUser(authorUID, Envelope{
		Type:      TypeAuditPassed,
		Title:     "Submission received",
		Body:      fmt.Sprintf("%q passed automatic screening and is waiting for moderator review.", recipeTitle),
		RelatedID: recipeID,
	})
}

func (r *Router) AuditRejected(authorUID, recipeID int64, recipeTitle, reason string) {
	r.SendToUser(authorUID, Envelope{
		Type:      TypeAuditRejected,
		Title:     "Submission returned",
		Body:      fmt.Sprintf("%q was returned to draft: %s", recipeTitle, reason),
		RelatedID: recipeID,
	})
}

// PendingRecipe tells every moderator a new item is waiting.
func (r *Router) PendingRecipe(ctx context.Context, recipeID int64, recipeTitle string, author *repo.Profile) {
	env := Envelope{
		Type:      TypePendingRecipe,
		Title:     "Recipe pending review",
		Body:      fmt.Sprintf("%q is waiting for review.", recipeTitle),
		RelatedID: recipeID,
	}
	if author != nil {
		env.SenderID = author.UID
		env.SenderName = author.Nickname
		env.SenderFace = author.Avatar
	}
	r.BroadcastToModerators(ctx, env)
}

// RecipeWithdrawn tells moderators an author pulled a submission back.
func (r *Router) RecipeWithdrawn(ctx context.Context, recipeID int64, recipeTitle string, author *repo.Profile) {
	env := Envelope{
		Type:      TypeRecipeWithdraw,
		Title:     "Recipe withdrawn",
		Body:      fmt.Sprintf("%q was withdrawn by its author.", recipeTitle),
		RelatedID: recipeID,
	}
	if author != nil {
		env.SenderID = author.UID
		env.SenderName = author.Nickname
		env.SenderFace = author.Avatar
	}
	r.BroadcastToModerators(ctx, env)
}

// Social builders require a sender profile: the envelope is about who
// acted, and the profile lookup returns nil for a vanished user. A nil
// sender drops the notification instead of panicking mid-pipeline.

func (r *Router) ChatMessage(toUID int64, from *repo.Profile, messageID int64, content string) {
	if from == nil {
		r.log.Debug("dropping notification without sender", zap.String("type", TypeChatMessage))
		return
	}
	r.SendToUser(toUID, Envelope{
		Type:       TypeChatMessage,
		Title:      "New message",
		Body:       preview(content),
		RelatedID:  messageID,
		SenderID:   from.UID,
		SenderName: from.Nickname,
		SenderFace: from.Avatar,
	})
}

func (r *Router) NewFollower(toUID int64, from *repo.Profile) {
	if from == nil {
		r.log.Debug("dropping notification without sender", zap.String("type", TypeNewFollower))
		return
	}
	r.SendToUser(toUID, Envelope{
		Type:       TypeNewFollower,
		Title:      "New follower",
		Body:       fmt.Sprintf("%s is now following you.", from.Nickname),
		SenderID:   from.UID,
		SenderName: from.Nickname,
		SenderFace: from.Avatar,
	})
}

// NewComment notifies a recipe's author about a comment. Commenting on
// your own recipe stays silent.
func (r *Router) NewComment(authorUID int64, from *repo.Profile, recipeID int64, content string) {
	if from == nil {
		r.log.Debug("dropping notification without sender", zap.String("type", TypeNewComment))
		return
	}
	if from.UID == authorUID {
		return
	}
	r.SendToUser(authorUID, Envelope{
		Type:       TypeNewComment,
		Title:      "New comment",
		Body:       preview(content),
		RelatedID:  recipeID,
		SenderID:   from.UID,
		SenderName: from.Nickname,
		SenderFace: from.Avatar,
	})
}

// CommentLiked notifies a comment's owner. Liking your own comment
// stays silent.
func (r *Router) CommentLiked(ownerUID int64, from *repo.Profile, recipeID int64, commentText string) {
	if from == nil {
		r.log.Debug("dropping notification without sender", zap.String("type", TypeCommentLiked))
		return
	}
	if from.UID == ownerUID {
		return
	}
	r.SendToUser(ownerUID, Envelope{
		Type:       TypeCommentLiked,
		Title:      "Comment liked",
		Body:       preview(commentText),
		RelatedID:  recipeID,
		SenderID:   from.UID,
		SenderName: from.Nickname,
		SenderFace: from.Avatar,
	})
}

// CommentReplied notifies the parent commenter. Replying to yourself
// stays silent.
func (r *Router) CommentReplied(parentUID int64, from *repo.Profile, recipeID int64, replyText string) {
	if from == nil {
		r.log.Debug("dropping notification without sender", zap.String("type", TypeCommentReply))
		return
	}
	if from.UID == parentUID {
		return
	}
	r.SendToUser(parentUID, Envelope{
		Type:       TypeCommentReply,
		Title:      "New reply",
		Body:       preview(replyText),
		RelatedID:  recipeID,
		SenderID:   from.UID,
		SenderName: from.Nickname,
		SenderFace: from.Avatar,
	})
}

package hub

import "strings"

// Channel name classes. The prefix encodes who may join:
//
//	public:<topic>, match:<matchId>, comments:<articleId>  open to anyone
//	user:<userId>                                          only that user
//	admin:<topic>                                          administrators only
//
// Anything that does not match the grammar is denied.
const (
	classPublic   = "public"
	classMatch    = "match"
	classComments = "comments"
	classUser     = "user"
	classAdmin    = "admin"
)

// MatchChannel returns the channel name for a match id.
func MatchChannel(matchID string) string { return classMatch + ":" + matchID }

// CommentsChannel returns the channel name for an article's comment stream.
func CommentsChannel(articleID string) string { return classComments + ":" + articleID }

// UserChannel returns the private channel name for a user id.
func UserChannel(userID string) string { return classUser + ":" + userID }

// CanAccess decides whether an identity may join a channel. userID is empty
// for anonymous connections. It is a pure function and is consulted on every
// join_channel request; the only joins that bypass it are the ones the hub
// itself performs (the automatic user:<id> subscription at connect time).
func CanAccess(userID, channel string, isAdmin func(string) bool) bool {
	class, rest, ok := strings.Cut(channel, ":")
	if !ok || rest == "" {
		return false
	}

	switch class {
	case classPublic, classMatch, classComments:
		return true
	case classUser:
		return userID != "" && userID == rest
	case classAdmin:
		return userID != "" && isAdmin != nil && isAdmin(userID)
	default:
		return false
	}
}

package errs

// 路由层错误码。权限类 11xx，状态冲突类 12xx，目标类 13xx，接入鉴权 14xx。
// 这些错误只回给发送方本人，不触发任何 fan-out。
var (
	ErrNotFriend     = NewCodeError(1101, "not your friend")
	ErrBlocked       = NewCodeError(1102, "friendship blocked")
	ErrNotMember     = NewCodeError(1103, "not a group member")
	ErrNotOwner      = NewCodeError(1104, "you are not the owner")
	ErrNotOwnerAdmin = NewCodeError(1105, "you are not the owner or admin")
	ErrSelfTarget    = NewCodeError(1106, "target is yourself")

	ErrAlreadyFriend  = NewCodeError(1201, "already friend")
	ErrAlreadyApplied = NewCodeError(1202, "already send apply")
	ErrAlreadyBlocked = NewCodeError(1203, "already block friend")
	ErrAlreadyAdmin   = NewCodeError(1204, "already admin")
	ErrNotAdmin       = NewCodeError(1205, "not admin")
	ErrAlreadyPinned  = NewCodeError(1206, "message already top")
	ErrNotPinned      = NewCodeError(1207, "message not top")
	ErrRecallWindow   = NewCodeError(1208, "recall window expired")
	ErrNoRelationship = NewCodeError(1209, "relationship not exist")

	ErrUserNotFound    = NewCodeError(1301, "user not exist")
	ErrGroupNotFound   = NewCodeError(1302, "group not exist")
	ErrMessageNotFound = NewCodeError(1303, "message not exist")
	ErrNotYourMessage  = NewCodeError(1304, "not your message")
	ErrBadTarget       = NewCodeError(1305, "bad target")

	ErrTokenMissing = NewCodeError(1401, "token missing")
	ErrTokenExpired = NewCodeError(1402, "token invalid or expired")
)

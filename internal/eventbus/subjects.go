package eventbus

// Subjects in the fechatter.<category>.<action>.v1 taxonomy. The bus is
// versioned per-subject rather than globally so that individual payload
// shapes can evolve independently.
const (
	SubjectMessageCreated   = "fechatter.messages.message.created.v1"
	SubjectMessageEdited    = "fechatter.messages.message.edited.v1"
	SubjectMessageDeleted   = "fechatter.messages.message.deleted.v1"
	SubjectReadReceipt      = "fechatter.messages.read_receipt.v1"
	SubjectMemberJoined     = "fechatter.chats.member.joined.v1"
	SubjectMemberLeft       = "fechatter.chats.member.left.v1"
	SubjectChatUpdated      = "fechatter.chats.chat.updated.v1"
	SubjectTyping           = "fechatter.realtime.typing.v1"
	SubjectPresence         = "fechatter.realtime.presence.v1"
	SubjectSearchIndex      = "fechatter.search.index.v1"
	SubjectSearchDeadLetter = "fechatter.search.index.v1.deadletter"

	// WildcardAll subscribes to every Fechatter subject; used by the
	// notification hub, which must fan out regardless of category.
	WildcardAll = "fechatter.>"
)

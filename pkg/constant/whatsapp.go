package constant

const (
	SESSION_STARTED   = "Session start requested"
	SESSION_STOPPED   = "Session stopped"
	SNAPSHOT_NOTFOUND = "No session snapshot for channel"

	INVALID_REQUEST      = "Invalid request payload"
	INVALID_CHANNEL_ID   = "Invalid channel id"
	CANT_FIND            = "%s not found"
	SOMETHING_WENT_WRONG = "something went wrong"
	UNAUTHORIZED_ACCESS  = "unauthorized access"

	QUEUE_MENU_HEADER = "Please reply with the number of the department you want to talk to:"
	MEDIA_PLACEHOLDER = "[%s]"
	STOPPED_BY_USER   = "stopped by operator"
)

// System tags mark synthetic outbound messages so the pipeline can tell
// whether it already greeted a ticket or which menu the contact is answering.
const (
	TAG_GREETING     = "greeting"
	TAG_QUEUE_MENU   = "queue_menu"
	TAG_OPTIONS_MENU = "options_menu"
	TAG_OPTION_REPLY = "option_reply"
)

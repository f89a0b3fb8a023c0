package i18n

var ALLOW_LANG = map[string]bool{
	"en":    true,
	"zh-CN": true,
}

const DEFAULT_LANG = "en"

const (
	ERROR_INTERNAL          = "error.internal"
	ERROR_NOT_FOUND         = "error.notfound"
	ERROR_INVALIDARGUMENT   = "error.invalidargument"
	ERROR_PERMISSION_DENIED = "error.permission.denied"
	ERROR_UNAUTHORIZED      = "error.unauthorized"
	ERROR_FORBIDDEN         = "error.forbidden"
	ERROR_TOO_MANY_REQUESTS = "error.tooManyRequests"

	ERROR_INVALID_TRANSITION = "error.session.invalid_transition"
	ERROR_ALREADY_ENDED      = "error.session.already_ended"
	ERROR_SESSION_EXISTS     = "error.session.exists"
	ERROR_SESSION_NOT_FOUND  = "error.session.notfound"
	ERROR_SESSION_ENDED      = "error.session.ended"
	ERROR_ACTIVATION_FAILED  = "error.session.activation_failed"
	ERROR_RETRY_FAILED       = "error.retry.failed"
	ERROR_MESSAGE_TIMEOUT    = "error.message.timeout"

	ERROR_INVALID_TOKEN = "error.invalid.token"
)

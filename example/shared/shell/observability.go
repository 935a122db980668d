package shell

const (
	CommandDurationMetric   = "commandhandler_handle_duration_seconds"
	CommandCallsMetric      = "commandhandler_handle_calls_total"
	RetriesMetric           = "commandhandler_retries_total"
	RetryDelayMetric        = "commandhandler_retry_delay_seconds"
	MaxRetriesReachedMetric = "commandhandler_max_retries_reached_total"

	StatusSuccess  = "success"
	StatusRejected = "rejected"
	StatusError    = "error"

	LogMsgCommandCompleted = "command handler completed"
	LogMsgCommandRejected  = "command handler rejected command"
	LogMsgCommandFailed    = "command handler failed"

	LogAttrCommandType  = "command_type"
	LogAttrStatus       = "status"
	LogAttrDurationMS   = "duration_ms"
	LogAttrAttempts     = "attempts"
	LogAttrError        = "error"
	LabelAttemptNumber  = "attempt_number"
	LabelErrorType      = "error_type"
	LabelFinalErrorType = "final_error_type"

	SpanNameCommandHandle = "commandhandler.handle"
)

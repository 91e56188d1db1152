package errors

// ErrorCodeInfo contains metadata about an error code.
type ErrorCodeInfo struct {
	Code            ErrorCode
	Retryable       bool
	Description     string
	SuggestedAction string
}

// ErrorCodeRegistry maps error codes to their metadata.
var ErrorCodeRegistry = map[ErrorCode]ErrorCodeInfo{
	CodeValidation: {
		Code:            CodeValidation,
		Description:     "Job input failed validation",
		SuggestedAction: "Fix the request payload and submit a new job",
	},
	CodeUnsupportedFormat: {
		Code:            CodeUnsupportedFormat,
		Description:     "File type is not supported by extraction",
		SuggestedAction: "Convert the file to PDF, DOCX, text, an image or audio",
	},
	CodeExtraction: {
		Code:            CodeExtraction,
		Description:     "Input files could not be read",
		SuggestedAction: "Check the uploaded blobs: minutes job logs <job-id>",
	},
	CodeNoTranscribableContent: {
		Code:            CodeNoTranscribableContent,
		Description:     "Neither audio nor document text was found",
		SuggestedAction: "Upload a recording or a document with text",
	},
	CodeTimeout: {
		Code:            CodeTimeout,
		Retryable:       true,
		Description:     "Provider call exceeded its time limit",
		SuggestedAction: "Raise providers.*.timeout or retry: minutes job retry <job-id>",
	},
	CodeRateLimit: {
		Code:            CodeRateLimit,
		Retryable:       true,
		Description:     "Provider rate limit exceeded",
		SuggestedAction: "Wait and retry: minutes job retry <job-id>",
	},
	CodeProviderUnavailable: {
		Code:            CodeProviderUnavailable,
		Retryable:       true,
		Description:     "Provider or network unavailable",
		SuggestedAction: "Check provider status, then: minutes job retry <job-id>",
	},
	CodeProviderAuth: {
		Code:            CodeProviderAuth,
		Description:     "Provider rejected the credentials",
		SuggestedAction: "Update the API key: minutes keys set <provider>",
	},
	CodeProviderBadRequest: {
		Code:            CodeProviderBadRequest,
		Description:     "Provider rejected the request as malformed",
		SuggestedAction: "Inspect the job log for the request that failed",
	},
	CodeParseError: {
		Code:            CodeParseError,
		Description:     "Provider response could not be parsed",
		SuggestedAction: "Retry; if it persists try a different model",
	},
	CodePartialEnhancement: {
		Code:            CodePartialEnhancement,
		Description:     "An enhancement pass under-produced; original content kept",
		SuggestedAction: "No action needed",
	},
	CodeRefinement: {
		Code:            CodeRefinement,
		Description:     "Final minutes could not be produced",
		SuggestedAction: "Check LLM provider health, then: minutes job retry <job-id>",
	},
	CodeContextCancelled: {
		Code:            CodeContextCancelled,
		Description:     "Operation cancelled by user or shutdown",
		SuggestedAction: "Retry the job if the cancellation was not intended",
	},
	CodeProcessingError: {
		Code:            CodeProcessingError,
		Description:     "Unclassified processing error",
		SuggestedAction: "Check logs: minutes job logs <job-id>",
	},
}

// IsRetryable returns true if the given error code represents a transient, retryable error.
func IsRetryable(code ErrorCode) bool {
	if info, ok := ErrorCodeRegistry[code]; ok {
		return info.Retryable
	}
	return false
}

// GetSuggestedAction returns the suggested action for the given error code.
func GetSuggestedAction(code ErrorCode) string {
	if info, ok := ErrorCodeRegistry[code]; ok {
		return info.SuggestedAction
	}
	return "Check logs for more details: minutes job logs <job-id>"
}

// GetDescription returns the human-readable description for the given error code.
func GetDescription(code ErrorCode) string {
	if info, ok := ErrorCodeRegistry[code]; ok {
		return info.Description
	}
	return "Unknown error"
}

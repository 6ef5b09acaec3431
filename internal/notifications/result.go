package notifications

// SendResult is the outcome of one dispatch, shared by every variant.
type SendResult struct {
	Success bool `json:"success"`
	// Subject and Body are the rendered content, when rendering was reached.
	Subject string `json:"subject,omitempty"`
	Body    string `json:"body,omitempty"`
	LogID   string `json:"log_id,omitempty"`
	// Stage is nil on success.
	Stage *Stage `json:"stage"`
	Error string `json:"error,omitempty"`
	// HTTPStatus is the transport response code of a failed send.
	HTTPStatus  *int `json:"http_status,omitempty"`
	SentCount   int  `json:"sent_count"`
	FailedCount int  `json:"failed_count"`
	RetryCount  int  `json:"retry_count"`
	Cancelled   bool `json:"cancelled,omitempty"`
}

func failedResult(se *StageError) SendResult {
	stage := se.Stage
	return SendResult{
		Stage:      &stage,
		Error:      se.Err.Error(),
		HTTPStatus: se.HTTPStatus,
	}
}

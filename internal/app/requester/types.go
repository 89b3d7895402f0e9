package requester

import "encoding/json"

type JobHandle struct {
	JobID   string `json:"jobId"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// JobStatus mirrors the job metadata shown by the debug endpoint. Times are
// epoch milliseconds; zero means not yet.
type JobStatus struct {
	ID           string          `json:"id"`
	Name         string          `json:"name"`
	Data         json.RawMessage `json:"data"`
	State        string          `json:"state"`
	AttemptsMade int             `json:"attemptsMade"`
	ReturnValue  json.RawMessage `json:"returnvalue"`
	FailedReason string          `json:"failedReason,omitempty"`
	Timestamp    int64           `json:"timestamp"`
	ProcessedOn  int64           `json:"processedOn,omitempty"`
	FinishedOn   int64           `json:"finishedOn,omitempty"`
}

type Health struct {
	Status      string `json:"status"`
	QueueName   string `json:"queueName"`
	WaitingJobs int    `json:"waitingJobs"`
	Timestamp   int64  `json:"timestamp"`
	Error       string `json:"error,omitempty"`
}

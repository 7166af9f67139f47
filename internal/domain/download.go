package domain

// DownloadStatus tracks the lifecycle of one artifact transfer.
type DownloadStatus string

const (
	DownloadStatusPreparing    DownloadStatus = "preparing"
	DownloadStatusTransferring DownloadStatus = "transferring"
	DownloadStatusComplete     DownloadStatus = "complete"
	DownloadStatusError        DownloadStatus = "error"
)

// Terminal reports whether the transfer has finished, successfully or not.
func (s DownloadStatus) Terminal() bool {
	return s == DownloadStatusComplete || s == DownloadStatusError
}

// DownloadTask is one tracked artifact transfer, independent of job tracking.
type DownloadTask struct {
	ID            string         `json:"id"`
	JobID         string         `json:"jobId"`
	Format        string         `json:"format"`
	Status        DownloadStatus `json:"status"`
	Progress      int            `json:"progress"`
	Indeterminate bool           `json:"indeterminate"`
	Path          string         `json:"path,omitempty"`
	ErrorMessage  string         `json:"errorMessage,omitempty"`
}

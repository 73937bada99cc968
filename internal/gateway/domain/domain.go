package domain

import (
	"errors"
	"io"
	"time"
)

type TaskStatus string

const (
	StatusPending    TaskStatus = "pending"
	StatusProcessing TaskStatus = "processing"
	StatusDone       TaskStatus = "done"
	StatusFailed     TaskStatus = "failed"
)

// ResultFile points at one decoded output stored for download.
type ResultFile struct {
	Name      string `json:"name"`
	Filename  string `json:"filename"`
	MediaType string `json:"media_type"`
}

type Task struct {
	ID string `json:"id"`

	Status TaskStatus `json:"status"`

	Kind      string `json:"kind"`
	SourceURL string `json:"source_url"`

	ProgressStatus string `json:"progress_status"`
	Progress       int    `json:"progress"`

	Results []ResultFile `json:"results"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Error     string    `json:"error"`
}

type CreateTaskParams struct {
	Kind      string
	SourceURL string

	TTL time.Duration
}

type ConvertRequest struct {
	URL  string `json:"url"`
	Kind string `json:"kind"`
}

type ConvertResponse struct {
	ID string `json:"id"`
}

type FileInfo struct {
	Name        string `json:"name"`
	MediaType   string `json:"media_type"`
	DownloadURL string `json:"download_url"`
}

type StatusResponse struct {
	ID             string     `json:"id"`
	Status         TaskStatus `json:"status"`
	ProgressStatus string     `json:"progress_status,omitempty"`
	Progress       int        `json:"progress"`
	Files          []FileInfo `json:"files,omitempty"`
	Error          string     `json:"error,omitempty"`
}

type DownloadResult struct {
	FileName  string
	MediaType string
	Size      int64
	Content   io.ReadCloser
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

var (
	ErrTaskNotFound = errors.New("task not found")
	ErrTaskFailed   = errors.New("task failed")
	ErrTaskNotReady = errors.New("task not ready")
	ErrFileNotFound = errors.New("file not found")
)

package httpresp

import "time"

const (
	ErrNoFileUploaded     = "No file uploaded"
	ErrMultipleFiles      = "Only one file can be uploaded per request"
	ErrFileTooLarge       = "File too large"
	ErrFileTypeNotAllowed = "File type not allowed"
	ErrInvalidCodeFormat  = "Invalid code format"
	ErrFileNotFound       = "File not found or code is invalid"
	ErrUploadFailed       = "Upload failed"
	ErrDownloadFailed     = "Download failed"
	ErrCodeSpaceBusy      = "No free code available, please retry"
	ErrNotAnImage         = "Preview is only available for images"
	ErrTooManyRequests    = "Too many requests, please try again later"
	ErrUsernameRequired   = "username is required"
	ErrInvalidRoom        = "room name is invalid"
)

const MsgUploadSucceeded = "File uploaded successfully"

type ErrorResponse struct {
	Error string `json:"error"`
}

type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Uptime    float64   `json:"uptime"`
}

type UploadResponse struct {
	Code      string    `json:"code"`
	Filename  string    `json:"filename"`
	Size      int64     `json:"size"`
	Message   string    `json:"message"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type RoomSummary struct {
	Name    string `json:"name"`
	Members int    `json:"members"`
}

func NewErrorResponse(message string) ErrorResponse {
	return ErrorResponse{Error: message}
}

func NewHealthResponse(startedAt, now time.Time) HealthResponse {
	return HealthResponse{Status: "OK", Timestamp: now.UTC(), Uptime: now.Sub(startedAt).Seconds()}
}

func NewUploadResponse(code, filename string, size int64, expiresAt time.Time) UploadResponse {
	return UploadResponse{Code: code, Filename: filename, Size: size, Message: MsgUploadSucceeded, ExpiresAt: expiresAt.UTC()}
}

package model

import "time"

// File is an uploaded blob owned by exactly one user.
//
// StorageKey is the generated name the bytes live under in the blob store;
// Filename is what the user uploaded and what downloads are served as.
type File struct {
	ID         int64     `json:"id"`
	UserID     int64     `json:"userId"`
	Filename   string    `json:"filename"`
	MimeType   string    `json:"mimetype"`
	StorageKey string    `json:"-"`
	Size       int64     `json:"size"`
	UploadedAt time.Time `json:"uploadedAt"`
}

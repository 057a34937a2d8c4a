// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package hostapi

import (
	"encoding/json"
	"strings"
	"time"
)

// Field is one entry of a component's "fields" array.
type Field struct {
	Order    int    `json:"order,omitempty"`
	Name     string `json:"name"`
	Label    string `json:"label,omitempty"`
	Type     string `json:"type,omitempty"`
	Advanced bool   `json:"advanced,omitempty"`
	Privacy  string `json:"privacy,omitempty"`
	Value    any    `json:"value,omitempty"`
}

// FindField returns the field whose name matches name case-insensitively.
func FindField(fields []Field, name string) (Field, bool) {
	for _, f := range fields {
		if strings.EqualFold(f.Name, name) {
			return f, true
		}
	}
	return Field{}, false
}

// Component is an indexer, download client, or import list as the host
// returns it from /schema or the CRUD endpoints. Keys the host sends that
// are not modeled here survive a read-modify-write through Extra.
type Component struct {
	ID                 int     `json:"id,omitempty"`
	Name               string  `json:"name"`
	Implementation     string  `json:"implementation"`
	ImplementationName string  `json:"implementationName,omitempty"`
	ConfigContract     string  `json:"configContract,omitempty"`
	Protocol           string  `json:"protocol,omitempty"`
	Enable             *bool   `json:"enable,omitempty"`
	Fields             []Field `json:"fields"`
	Tags               []int   `json:"tags"`

	Extra map[string]json.RawMessage `json:"-"`
}

var componentKeys = map[string]bool{
	"id": true, "name": true, "implementation": true, "implementationName": true,
	"configContract": true, "protocol": true, "enable": true, "fields": true, "tags": true,
}

type componentAlias Component

// UnmarshalJSON keeps unknown keys in Extra.
func (c *Component) UnmarshalJSON(data []byte) error {
	var a componentAlias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	for k := range all {
		if componentKeys[k] {
			delete(all, k)
		}
	}
	if len(all) > 0 {
		a.Extra = all
	}
	*c = Component(a)
	return nil
}

// MarshalJSON writes the modeled fields over Extra.
func (c Component) MarshalJSON() ([]byte, error) {
	known, err := json.Marshal(componentAlias(c))
	if err != nil || len(c.Extra) == 0 {
		return known, err
	}
	out := make(map[string]json.RawMessage, len(c.Extra)+len(componentKeys))
	for k, v := range c.Extra {
		out[k] = v
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(known, &fields); err != nil {
		return nil, err
	}
	for k, v := range fields {
		out[k] = v
	}
	return json.Marshal(out)
}

// Field returns the named field case-insensitively.
func (c Component) Field(name string) (Field, bool) {
	return FindField(c.Fields, name)
}

// SetField sets the value of the named field and reports whether it exists.
func (c *Component) SetField(name string, value any) bool {
	for i := range c.Fields {
		if strings.EqualFold(c.Fields[i].Name, name) {
			c.Fields[i].Value = value
			return true
		}
	}
	return false
}

// Enabled reports the enable flag, treating an absent flag as enabled.
func (c Component) Enabled() bool { return c.Enable == nil || *c.Enable }

// ValidationFailure is one entry of a 400 response body.
type ValidationFailure struct {
	PropertyName   string `json:"propertyName"`
	ErrorMessage   string `json:"errorMessage"`
	Severity       string `json:"severity,omitempty"`
	IsWarning      bool   `json:"isWarning,omitempty"`
	AttemptedValue any    `json:"attemptedValue,omitempty"`
}

// SystemStatus is the subset of /system/status used here.
type SystemStatus struct {
	AppName      string    `json:"appName"`
	InstanceName string    `json:"instanceName,omitempty"`
	Version      string    `json:"version"`
	Branch       string    `json:"branch,omitempty"`
	IsDocker     bool      `json:"isDocker"`
	StartTime    time.Time `json:"startTime"`
}

// Album is a library album.
type Album struct {
	ID             int          `json:"id"`
	Title          string       `json:"title"`
	ArtistID       int          `json:"artistId"`
	ForeignAlbumID string       `json:"foreignAlbumId,omitempty"`
	Monitored      bool         `json:"monitored"`
	Artist         *AlbumArtist `json:"artist,omitempty"`
}

// AlbumArtist is the artist embedded in an Album.
type AlbumArtist struct {
	ArtistName string `json:"artistName"`
}

// ArtistName returns the nested artist name or "".
func (a Album) ArtistName() string {
	if a.Artist == nil {
		return ""
	}
	return a.Artist.ArtistName
}

// Release is one search result. IndexerID is nil when the host sent null,
// which points at a parser regression in the indexer.
type Release struct {
	GUID        string   `json:"guid"`
	Title       string   `json:"title"`
	Size        int64    `json:"size"`
	IndexerID   *int     `json:"indexerId"`
	Indexer     string   `json:"indexer"`
	Protocol    string   `json:"protocol,omitempty"`
	DownloadURL string   `json:"downloadUrl,omitempty"`
	ArtistName  string   `json:"artistName,omitempty"`
	AlbumTitle  string   `json:"albumTitle,omitempty"`
	Approved    bool     `json:"approved"`
	Rejected    bool     `json:"rejected"`
	Rejections  []string `json:"rejections,omitempty"`
}

// Unattributed reports whether the release carries no indexer at all.
func (r Release) Unattributed() bool {
	return (r.IndexerID == nil || *r.IndexerID == 0) && strings.TrimSpace(r.Indexer) == ""
}

// FromIndexer reports whether the release came from the given indexer, by
// id or by name.
func (r Release) FromIndexer(id int, name string) bool {
	if r.IndexerID != nil && *r.IndexerID != 0 && *r.IndexerID == id {
		return true
	}
	return name != "" && strings.EqualFold(strings.TrimSpace(r.Indexer), name)
}

// QueueItem is one download queue record.
type QueueItem struct {
	ID                    int     `json:"id"`
	Title                 string  `json:"title"`
	Status                string  `json:"status"`
	TrackedDownloadStatus string  `json:"trackedDownloadStatus,omitempty"`
	TrackedDownloadState  string  `json:"trackedDownloadState,omitempty"`
	DownloadID            string  `json:"downloadId,omitempty"`
	DownloadClient        string  `json:"downloadClient,omitempty"`
	Indexer               string  `json:"indexer,omitempty"`
	AlbumID               int     `json:"albumId,omitempty"`
	OutputPath            string  `json:"outputPath,omitempty"`
	ErrorMessage          string  `json:"errorMessage,omitempty"`
	Size                  float64 `json:"size,omitempty"`
	SizeLeft              float64 `json:"sizeleft,omitempty"`
}

// Completed reports whether the download finished on the client side.
func (q QueueItem) Completed() bool {
	switch strings.ToLower(q.Status) {
	case "completed":
		return true
	}
	switch strings.ToLower(q.TrackedDownloadState) {
	case "importpending", "importing", "imported":
		return true
	}
	return false
}

// Failed reports whether the host marked the item failed.
func (q QueueItem) Failed() bool {
	return strings.EqualFold(q.Status, "failed") ||
		strings.EqualFold(q.TrackedDownloadState, "failedPending") ||
		strings.EqualFold(q.TrackedDownloadStatus, "error")
}

// HistoryRecord is one history event.
type HistoryRecord struct {
	ID          int               `json:"id"`
	EventType   string            `json:"eventType"`
	SourceTitle string            `json:"sourceTitle"`
	DownloadID  string            `json:"downloadId,omitempty"`
	AlbumID     int               `json:"albumId,omitempty"`
	Date        time.Time         `json:"date"`
	Data        map[string]string `json:"data,omitempty"`
}

// Page is the host's paging envelope.
type Page[T any] struct {
	Page         int `json:"page"`
	PageSize     int `json:"pageSize"`
	TotalRecords int `json:"totalRecords"`
	Records      []T `json:"records"`
}

// Command is a host background command.
type Command struct {
	ID          int            `json:"id"`
	Name        string         `json:"name"`
	CommandName string         `json:"commandName,omitempty"`
	Status      string         `json:"status"`
	Result      string         `json:"result,omitempty"`
	Message     string         `json:"message,omitempty"`
	Queued      time.Time      `json:"queued"`
	Started     *time.Time     `json:"started,omitempty"`
	Ended       *time.Time     `json:"ended,omitempty"`
	Body        map[string]any `json:"body,omitempty"`
	Exception   string         `json:"exception,omitempty"`
}

// Command status values the host reports.
const (
	CommandQueued    = "queued"
	CommandStarted   = "started"
	CommandCompleted = "completed"
	CommandFailed    = "failed"
	CommandAborted   = "aborted"
	CommandCancelled = "cancelled"
	CommandOrphaned  = "orphaned"
)

// Done reports whether the command reached a terminal status.
func (c Command) Done() bool {
	switch strings.ToLower(c.Status) {
	case CommandCompleted, CommandFailed, CommandAborted, CommandCancelled, CommandOrphaned:
		return true
	}
	return false
}

// Succeeded reports whether the command completed without failure.
func (c Command) Succeeded() bool {
	return strings.EqualFold(c.Status, CommandCompleted) && !strings.EqualFold(c.Result, "unsuccessful")
}

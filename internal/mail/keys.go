package mail

import (
	"encoding/json"
)

// Key identifies a cache entry. Two keys are equal iff their CacheKey strings are equal,
// which makes comparison structural rather than by reference.
type Key interface {
	CacheKey() string
}

// ListKey identifies one page of a thread listing
type ListKey struct {
	ConnectionID string
	Folder       Folder
	Query        string
	PageSize     int64
	LabelIDs     []string
	PageToken    string
}

// CacheKey encodes the tuple; a nil and an empty LabelIDs slice encode the same.
func (k ListKey) CacheKey() string {
	labels := k.LabelIDs
	if labels == nil {
		labels = []string{}
	}
	return encodeKey("threads", k.ConnectionID, string(k.Folder), k.Query, k.PageSize, labels, k.PageToken)
}

// Options converts the key into the remote listing request
func (k ListKey) Options() ListOptions {
	return ListOptions{
		ConnectionID: k.ConnectionID,
		Folder:       k.Folder,
		Query:        k.Query,
		PageSize:     k.PageSize,
		LabelIDs:     append([]string(nil), k.LabelIDs...),
		PageToken:    k.PageToken,
	}
}

// Next derives the key of the page following prev. It returns false when prev
// has no continuation token, which is the only end-of-listing signal.
func (k ListKey) Next(prev *Page) (ListKey, bool) {
	if prev == nil {
		k.PageToken = ""
		return k, true
	}
	if !prev.HasMore() {
		return ListKey{}, false
	}
	k.PageToken = prev.NextPageToken
	return k, true
}

// ThreadKey identifies a single-thread fetch
type ThreadKey struct {
	UserID       string
	ThreadID     string
	ConnectionID string
}

func (k ThreadKey) CacheKey() string {
	return encodeKey("thread", k.UserID, k.ThreadID, k.ConnectionID)
}

// StatsKey identifies the aggregate counters of a connection
type StatsKey struct {
	ConnectionID string
}

func (k StatsKey) CacheKey() string {
	return encodeKey("stats", k.ConnectionID)
}

func encodeKey(parts ...interface{}) string {
	// A JSON array keeps component boundaries unambiguous
	b, err := json.Marshal(parts)
	if err != nil {
		panic("mail: unencodable cache key: " + err.Error())
	}
	return string(b)
}

package jobwatch

import (
	"errors"
	"strings"
)

// DefaultCollectionType is the type discriminant used when a [Collection] is
// created without one.
const DefaultCollectionType = "ImplicitCollectionJobs"

const (
	historyPrefix    = "history:"
	invocationPrefix = "invocation:"
)

// Collection identifies a dataset collection whose jobs are watched.
//
// Collection is immutable after creation via [NewCollection].
type Collection struct {
	historyID string
	id        string
	typ       string
}

// NewCollection creates a [Collection] in the given history. An empty typ
// uses [DefaultCollectionType].
//
// Returns an error if the history or collection id is empty.
func NewCollection(historyID, id, typ string) (Collection, error) {
	if historyID == "" {
		return Collection{}, errors.New("collection history id cannot be empty")
	}
	if id == "" {
		return Collection{}, errors.New("collection id cannot be empty")
	}
	if typ == "" {
		typ = DefaultCollectionType
	}
	return Collection{historyID: historyID, id: id, typ: typ}, nil
}

// HistoryID returns the id of the history that owns the collection.
func (c Collection) HistoryID() string {
	return c.historyID
}

// ID returns the collection's id.
func (c Collection) ID() string {
	return c.id
}

// Type returns the collection's type discriminant.
func (c Collection) Type() string {
	return c.typ
}

func historySetName(historyID string) string {
	return historyPrefix + historyID
}

func historySetID(set string) string {
	return strings.TrimPrefix(set, historyPrefix)
}

func invocationSetName(id string) string {
	return invocationPrefix + id
}

func invocationSetID(set string) (string, bool) {
	if !strings.HasPrefix(set, invocationPrefix) {
		return "", false
	}
	return strings.TrimPrefix(set, invocationPrefix), true
}

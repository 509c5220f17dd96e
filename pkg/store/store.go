// Package store persists model records.
//
// Store is the contract the download engine and the CLI program against.
// JSONStore implements it on top of a single JSON document.
package store

import "github.com/glorpus-work/mofetch/pkg/model"

// Store is the record store contract. Records returned are copies; callers
// persist changes through UpdateRecord.
type Store interface {
	GetRecordByID(id int64) (*model.Record, error)
	GetRecordsByGroup(group string) ([]*model.Record, error)
	GetAllRecords() ([]*model.Record, error)
	GetAvailableGroups() ([]string, error)
	AddRecord(record *model.Record) (int64, error)
	UpdateRecord(record *model.Record) error
	RemoveRecord(id int64) error
}

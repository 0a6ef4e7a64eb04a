package localstore

import (
	"fmt"

	"github.com/andreyvit/bundle/model"
)

// Change describes one document written by ApplyBundledDocuments. Changes
// are delivered to Options.OnChange after the transaction commits.
type Change struct {
	Op       Op
	Key      model.DocumentKey
	BundleID string
}

type Op int

const (
	OpNone   Op = 0
	OpPut    Op = 1
	OpDelete Op = 2
)

func (v Op) String() string {
	switch v {
	case OpNone:
		return "none"
	case OpPut:
		return "put"
	case OpDelete:
		return "delete"
	default:
		return fmt.Sprintf("invalid op %d", int(v))
	}
}

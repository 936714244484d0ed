package store

import (
	"errors"
	"fmt"
	"strings"

	"github.com/manash/imgvault/pkg/models"
)

var (
	ErrUnavailable       = errors.New("durable store unavailable")
	ErrTransactionFailed = errors.New("transaction failed")
	ErrMalformedRecord   = errors.New("malformed record")
	ErrUnknownCollection = errors.New("unknown collection")
)

// PartialClearError reports a ClearAll that emptied some collections but not
// others. Callers can retry the failed partitions individually.
type PartialClearError struct {
	Failed map[models.Collection]error
}

func (e *PartialClearError) Error() string {
	names := make([]string, 0, len(e.Failed))
	for col := range e.Failed {
		names = append(names, col.String())
	}
	return fmt.Sprintf("clear failed for collections: %s", strings.Join(names, ", "))
}

func (e *PartialClearError) Unwrap() error {
	return ErrTransactionFailed
}

package memory

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/alanyoungcy/betcoon/internal/domain"
)

// TransferJournal keeps prepared transfers in memory. Entries do not survive
// a restart.
type TransferJournal struct {
	mu      sync.Mutex
	entries map[string][]byte
}

// NewTransferJournal creates an empty TransferJournal.
func NewTransferJournal() *TransferJournal {
	return &TransferJournal{entries: make(map[string][]byte)}
}

// Save stores payload unless transferID already has an entry.
func (j *TransferJournal) Save(_ context.Context, transferID string, payload []byte) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if _, ok := j.entries[transferID]; !ok {
		j.entries[transferID] = slices.Clone(payload)
	}
	return nil
}

// Load returns the payload saved for transferID.
func (j *TransferJournal) Load(_ context.Context, transferID string) ([]byte, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	payload, ok := j.entries[transferID]
	if !ok {
		return nil, fmt.Errorf("memory: transfer %s: %w", transferID, domain.ErrNotFound)
	}
	return slices.Clone(payload), nil
}

var _ domain.TransferJournal = (*TransferJournal)(nil)

package card

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/artemis-pipeline/artemis/core"
)

// InMemoryKanbanBoard is a process-local KanbanBoard, primarily for tests
// and single-run CLI invocations that don't need durability.
type InMemoryKanbanBoard struct {
	mu        sync.RWMutex
	cards     map[string]*Card
	wipLimits map[string]int
}

// NewInMemoryKanbanBoard seeds a board from an initial set of cards and
// per-column WIP limits. A zero or absent limit means unlimited.
func NewInMemoryKanbanBoard(cards []*Card, wipLimits map[string]int) *InMemoryKanbanBoard {
	b := &InMemoryKanbanBoard{
		cards:     make(map[string]*Card, len(cards)),
		wipLimits: wipLimits,
	}
	if b.wipLimits == nil {
		b.wipLimits = make(map[string]int)
	}
	for _, c := range cards {
		cp := *c
		b.cards[c.ID] = &cp
	}
	return b
}

func (b *InMemoryKanbanBoard) GetCard(ctx context.Context, cardID string) (*Card, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	c, ok := b.cards[cardID]
	if !ok {
		return nil, &core.FrameworkError{Op: "GetCard", Kind: "not_found", ID: cardID, Message: "card not found", Err: core.ErrCardNotFound}
	}
	cp := *c
	return &cp, nil
}

func (b *InMemoryKanbanBoard) MoveCard(ctx context.Context, cardID, toColumn string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.cards[cardID]
	if !ok {
		return &core.FrameworkError{Op: "MoveCard", Kind: "not_found", ID: cardID, Message: "card not found", Err: core.ErrCardNotFound}
	}

	if limit, hasLimit := b.wipLimits[toColumn]; hasLimit && limit > 0 {
		inColumn := 0
		for _, other := range b.cards {
			if other.Column == toColumn {
				inColumn++
			}
		}
		if inColumn >= limit {
			return &core.FrameworkError{Op: "MoveCard", Kind: "wip_limit", ID: cardID, Message: fmt.Sprintf("column %q is at WIP limit %d", toColumn, limit), Err: core.ErrWIPLimitReached}
		}
	}

	c.Column = toColumn
	return nil
}

func (b *InMemoryKanbanBoard) UpdateCardMetadata(ctx context.Context, cardID string, patch map[string]string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.cards[cardID]
	if !ok {
		return &core.FrameworkError{Op: "UpdateCardMetadata", Kind: "not_found", ID: cardID, Message: "card not found", Err: core.ErrCardNotFound}
	}
	if c.Metadata == nil {
		c.Metadata = make(map[string]string, len(patch))
	}
	for k, v := range patch {
		c.Metadata[k] = v
	}
	return nil
}

// FileKanbanBoard persists a BoardSnapshot as a single JSON file, rewritten
// atomically (temp file + rename) on every mutation. It is intended for a
// single-process deployment; concurrent processes sharing the same path
// will race.
type FileKanbanBoard struct {
	mu   sync.Mutex
	path string
}

// NewFileKanbanBoard opens (or initializes) the board file at path.
func NewFileKanbanBoard(path string) (*FileKanbanBoard, error) {
	b := &FileKanbanBoard{path: path}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create board directory: %w", err)
		}
		empty := BoardSnapshot{Columns: []Column{}, WIPLimits: map[string]int{}}
		if err := b.write(empty); err != nil {
			return nil, err
		}
	}

	return b, nil
}

func (b *FileKanbanBoard) read() (BoardSnapshot, error) {
	data, err := os.ReadFile(b.path)
	if err != nil {
		return BoardSnapshot{}, fmt.Errorf("read board file: %w", err)
	}
	var snap BoardSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return BoardSnapshot{}, fmt.Errorf("parse board file: %w", err)
	}
	return snap, nil
}

func (b *FileKanbanBoard) write(snap BoardSnapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal board: %w", err)
	}

	tmp := b.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp board file: %w", err)
	}
	if err := os.Rename(tmp, b.path); err != nil {
		return fmt.Errorf("rename board file: %w", err)
	}
	return nil
}

func (b *FileKanbanBoard) findCard(snap *BoardSnapshot, cardID string) (*Card, string, int) {
	for ci := range snap.Columns {
		col := &snap.Columns[ci]
		for ki, c := range col.Cards {
			if c.ID == cardID {
				return c, col.ColumnID, ki
			}
		}
	}
	return nil, "", -1
}

func (b *FileKanbanBoard) GetCard(ctx context.Context, cardID string) (*Card, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	snap, err := b.read()
	if err != nil {
		return nil, err
	}
	c, _, _ := b.findCard(&snap, cardID)
	if c == nil {
		return nil, &core.FrameworkError{Op: "GetCard", Kind: "not_found", ID: cardID, Message: "card not found", Err: core.ErrCardNotFound}
	}
	cp := *c
	return &cp, nil
}

func (b *FileKanbanBoard) MoveCard(ctx context.Context, cardID, toColumn string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	snap, err := b.read()
	if err != nil {
		return err
	}

	c, fromColumn, idx := b.findCard(&snap, cardID)
	if c == nil {
		return &core.FrameworkError{Op: "MoveCard", Kind: "not_found", ID: cardID, Message: "card not found", Err: core.ErrCardNotFound}
	}

	if limit, hasLimit := snap.WIPLimits[toColumn]; hasLimit && limit > 0 {
		destCount := 0
		for _, col := range snap.Columns {
			if col.ColumnID == toColumn {
				destCount = len(col.Cards)
			}
		}
		if destCount >= limit {
			return &core.FrameworkError{Op: "MoveCard", Kind: "wip_limit", ID: cardID, Message: fmt.Sprintf("column %q is at WIP limit %d", toColumn, limit), Err: core.ErrWIPLimitReached}
		}
	}

	for ci := range snap.Columns {
		if snap.Columns[ci].ColumnID == fromColumn {
			snap.Columns[ci].Cards = append(snap.Columns[ci].Cards[:idx], snap.Columns[ci].Cards[idx+1:]...)
		}
	}

	c.Column = toColumn
	destExists := false
	for ci := range snap.Columns {
		if snap.Columns[ci].ColumnID == toColumn {
			snap.Columns[ci].Cards = append(snap.Columns[ci].Cards, c)
			destExists = true
		}
	}
	if !destExists {
		snap.Columns = append(snap.Columns, Column{ColumnID: toColumn, Cards: []*Card{c}})
	}

	return b.write(snap)
}

func (b *FileKanbanBoard) UpdateCardMetadata(ctx context.Context, cardID string, patch map[string]string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	snap, err := b.read()
	if err != nil {
		return err
	}

	c, _, _ := b.findCard(&snap, cardID)
	if c == nil {
		return &core.FrameworkError{Op: "UpdateCardMetadata", Kind: "not_found", ID: cardID, Message: "card not found", Err: core.ErrCardNotFound}
	}
	if c.Metadata == nil {
		c.Metadata = make(map[string]string, len(patch))
	}
	for k, v := range patch {
		c.Metadata[k] = v
	}

	return b.write(snap)
}

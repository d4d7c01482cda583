package documents

import (
	"context"

	"github.com/google/uuid"
)

// Ledger reads the append-only version history of documents. Rows are only
// ever written by Repository.ApplyTransition, together with the document.
type Ledger struct {
	repo Repository
}

func NewLedger(repo Repository) *Ledger {
	return &Ledger{repo: repo}
}

// Entry builds the ledger row recording t.
func (l *Ledger) Entry(doc *Document, t Transition, content, fileKey string, actor uuid.UUID) *DocumentVersion {
	return &DocumentVersion{
		DocumentID:  doc.ID,
		Version:     t.LedgerVersion,
		Action:      t.Action,
		Content:     content,
		FileURL:     fileKey,
		CreatedByID: actor,
	}
}

// Latest returns the n most recent rows, newest first.
func (l *Ledger) Latest(ctx context.Context, documentID uuid.UUID, n int) ([]DocumentVersion, error) {
	return l.repo.LatestVersions(ctx, documentID, n)
}

// DisplayFile resolves the blob that currently represents doc. Once the
// document has been submitted this is the newest ledger artifact rather
// than the originally uploaded file.
func (l *Ledger) DisplayFile(ctx context.Context, doc *Document) (string, error) {
	if doc.CurrentVersion <= 0 {
		return doc.FileURL, nil
	}
	latest, err := l.repo.LatestVersions(ctx, doc.ID, 1)
	if err != nil {
		return "", err
	}
	if len(latest) == 0 || latest[0].FileURL == "" {
		return doc.FileURL, nil
	}
	return latest[0].FileURL, nil
}

// List returns one page of history, newest first.
func (l *Ledger) List(ctx context.Context, documentID uuid.UUID, page, limit int) ([]DocumentVersion, int64, error) {
	return l.repo.ListVersions(ctx, documentID, page, limit)
}

// All returns the complete history in the order it was written.
func (l *Ledger) All(ctx context.Context, documentID uuid.UUID) ([]DocumentVersion, error) {
	rows, err := l.repo.LatestVersions(ctx, documentID, 0)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
	return rows, nil
}

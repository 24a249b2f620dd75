package store

import "fmt"

// Recover replays the WAL against the data file on open. Physical,
// full-page-image logging means redo is the only pass needed: a page
// image is reapplied if its transaction committed, and skipped if the
// transaction aborted or never reached a COMMIT record (torn by a crash).
func (p *PageStore) Recover() error {
	records, err := ReadAllRecords(p.walPath)
	if err != nil {
		return fmt.Errorf("read WAL records: %w", err)
	}
	if len(records) == 0 {
		return nil
	}

	committed := map[TxID]bool{}
	aborted := map[TxID]bool{}
	var maxLSN LSN
	for _, rec := range records {
		if rec.LSN > maxLSN {
			maxLSN = rec.LSN
		}
		switch rec.Type {
		case WALRecordCommit:
			committed[rec.TxID] = true
		case WALRecordAbort:
			aborted[rec.TxID] = true
		}
	}

	for _, rec := range records {
		if rec.Type != WALRecordPageImage {
			continue
		}
		if aborted[rec.TxID] {
			continue
		}
		if rec.TxID != 0 && !committed[rec.TxID] {
			// Transaction never committed (crash mid-transaction); its
			// page images are not durable, so they are not replayed.
			continue
		}
		if err := p.writePageRaw(rec.PageID, rec.Data); err != nil {
			return fmt.Errorf("replay page %d at LSN %d: %w", rec.PageID, rec.LSN, err)
		}
	}

	p.wal.SetNextLSN(maxLSN + 1)
	if err := p.file.Sync(); err != nil {
		return err
	}
	return nil
}

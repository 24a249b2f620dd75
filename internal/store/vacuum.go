package store

import "fmt"

// Vacuum compacts the area directories of value and out-of-band pages,
// reclaiming the space freed areas left behind. Area ids are stable
// across compaction, so OIDs held by the tree stay valid. Returns the
// number of pages compacted.
func (p *PageStore) Vacuum() (int, error) {
	p.mu.RLock()
	last := p.nextPageID
	p.mu.RUnlock()

	tx, err := p.BeginTx()
	if err != nil {
		return 0, err
	}
	compacted := 0
	for pid := PageID(1); pid < last; pid++ {
		buf, err := p.ReadPage(pid)
		if err != nil {
			// Free or never-written pages are not vacuum work.
			continue
		}
		pt := PageType(buf[0])
		if pt != PageTypeValue && pt != PageTypeOutOfBand {
			p.UnpinPage(pid)
			continue
		}
		ap := WrapAreaPage(buf)
		if ap.LiveAreas() < ap.AreaCount() {
			ap.Compact()
			if err := p.WritePage(tx, pid, ap.Bytes()); err != nil {
				p.UnpinPage(pid)
				p.AbortTx(tx)
				return compacted, fmt.Errorf("vacuum page %d: %w", pid, err)
			}
			compacted++
		}
		p.UnpinPage(pid)
	}
	if err := p.CommitTx(tx); err != nil {
		return compacted, err
	}
	return compacted, nil
}

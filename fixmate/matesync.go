package fixmate

import (
	"fmt"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/hts/sam"
	gbam "github.com/jourdren/picard/encoding/bam"
	"github.com/jourdren/picard/encoding/bamprovider"
)

// Stats counts what the mate synchronizer did.
type Stats struct {
	// Records is the number of records read.
	Records int64
	// Groups is the number of distinct query names seen.
	Groups int64
	// PairsFixed is the number of primary pairs whose mate fields were set.
	PairsFixed int64
	// SupplementaryFixed is the number of supplementary records pointed at a
	// primary mate.
	SupplementaryFixed int64
	// MateCigarsAdded is the number of MC tags written.
	MateCigarsAdded int64
	// MissingMates is the number of name groups where a paired record had no
	// record at all for its mate.
	MissingMates int64
	// SupplementaryOnlyMates is the number of name groups where a paired
	// record's mate appeared only as supplementary alignments.
	SupplementaryOnlyMates int64
	// SecondaryPassed is the number of secondary records passed unchanged.
	SecondaryPassed int64
	// UnpairedPassed is the number of unpaired records passed unchanged.
	UnpairedPassed int64
}

type syncState int

const (
	collecting syncState = iota
	resolving
	emitting
	done
)

// mateSynchronizer reads a query-name ordered stream and sets the mate fields
// of each name group. It yields the records of a group in their input order
// once the whole group has been read and resolved.
//
// mateSynchronizer implements bamprovider.Iterator.
type mateSynchronizer struct {
	in           bamprovider.Iterator
	addMateCigar bool
	tolerate     bool

	state     syncState
	lookahead *sam.Record
	inputDone bool
	group     []*sam.Record
	next      int
	rec       *sam.Record
	err       error
	closed    bool

	stats Stats
}

func newMateSynchronizer(in bamprovider.Iterator, addMateCigar, tolerateMissingMates bool) *mateSynchronizer {
	return &mateSynchronizer{in: in, addMateCigar: addMateCigar, tolerate: tolerateMissingMates}
}

// Scan advances to the next record. It returns false at the end of the
// stream or on error.
func (m *mateSynchronizer) Scan() bool {
	for {
		switch m.state {
		case emitting:
			if m.next < len(m.group) {
				m.rec = m.group[m.next]
				m.next++
				return true
			}
			m.group, m.next = m.group[:0], 0
			m.state = collecting
		case collecting:
			if !m.collect() {
				m.state = done
				continue
			}
			m.state = resolving
		case resolving:
			if err := m.resolve(m.group); err != nil {
				m.err = err
				m.state = done
				continue
			}
			m.state = emitting
		case done:
			m.rec = nil
			return false
		}
	}
}

// collect reads the next name group into m.group. The first record of the
// following group is kept in m.lookahead.
func (m *mateSynchronizer) collect() bool {
	if m.lookahead == nil {
		if m.inputDone || !m.in.Scan() {
			m.inputDone = true
			return false
		}
		m.lookahead = m.in.Record()
	}
	m.group = append(m.group, m.lookahead)
	m.lookahead = nil
	name := m.group[0].Name
	for !m.inputDone {
		if !m.in.Scan() {
			m.inputDone = true
			break
		}
		r := m.in.Record()
		if r.Name != name {
			m.lookahead = r
			break
		}
		m.group = append(m.group, r)
	}
	if m.inputDone {
		if err := m.in.Err(); err != nil {
			m.err = err
			return false
		}
	}
	return true
}

// Record returns the current record.
func (m *mateSynchronizer) Record() *sam.Record { return m.rec }

// Err returns the first error seen in the input or during resolution.
func (m *mateSynchronizer) Err() error {
	if m.err != nil {
		return m.err
	}
	return m.in.Err()
}

// Close closes the input iterator. It returns the first error seen.
func (m *mateSynchronizer) Close() error {
	if m.closed {
		return m.Err()
	}
	m.closed = true
	m.state = done
	if err := m.in.Close(); err != nil && m.err == nil {
		m.err = err
	}
	return m.err
}

// resolve sets the mate fields of every record of one name group.
func (m *mateSynchronizer) resolve(group []*sam.Record) error {
	m.stats.Groups++
	m.stats.Records += int64(len(group))

	// Slot 0 is the first of pair, slot 1 the second. Paired records without
	// the Read1 flag go to slot 1.
	var (
		primary [2]*sam.Record
		supp    [2][]*sam.Record
	)
	for _, r := range group {
		switch {
		case !gbam.IsPaired(r):
			m.stats.UnpairedPassed++
			continue
		case gbam.IsSecondary(r):
			m.stats.SecondaryPassed++
			continue
		}
		slot := 1
		if gbam.IsRead1(r) {
			slot = 0
		}
		if gbam.IsSupplementary(r) {
			supp[slot] = append(supp[slot], r)
			continue
		}
		if primary[slot] != nil {
			return errors.E(errors.Integrity,
				fmt.Sprintf("read %s has more than one primary record for read %d of the pair", r.Name, slot+1))
		}
		primary[slot] = r
	}

	if primary[0] != nil && primary[1] != nil {
		m.setMateInfo(primary[0], primary[1])
		m.stats.PairsFixed++
	}

	missing := false
	supplementaryOnly := false
	for slot := 0; slot < 2; slot++ {
		mate := primary[1-slot]
		if mate != nil {
			for _, s := range supp[slot] {
				m.setSupplementaryMate(s, mate)
			}
			continue
		}
		if primary[slot] == nil && len(supp[slot]) == 0 {
			continue
		}
		missing = true
		if len(supp[1-slot]) > 0 {
			supplementaryOnly = true
		}
	}
	if !missing {
		return nil
	}
	if !m.tolerate {
		detail := "no mate record"
		if supplementaryOnly {
			detail = "mate present only as supplementary alignments"
		}
		return errors.E(errors.Integrity, fmt.Sprintf("read %s: %s", group[0].Name, detail))
	}
	if supplementaryOnly {
		m.stats.SupplementaryOnlyMates++
	} else {
		m.stats.MissingMates++
	}
	for slot := 0; slot < 2; slot++ {
		if primary[1-slot] != nil {
			continue
		}
		if r := primary[slot]; r != nil {
			clearMateInfo(r)
		}
		for _, s := range supp[slot] {
			clearMateInfo(s)
		}
	}
	return nil
}

// setMateInfo sets the mate fields of a primary pair from each other. rec1 is
// the first of pair.
func (m *mateSynchronizer) setMateInfo(rec1, rec2 *sam.Record) {
	unmapped1, unmapped2 := gbam.IsUnmapped(rec1), gbam.IsUnmapped(rec2)
	switch {
	case !unmapped1 && !unmapped2:
		m.copyMate(rec1, rec2)
		m.copyMate(rec2, rec1)
	case unmapped1 && unmapped2:
		for _, pair := range [][2]*sam.Record{{rec1, rec2}, {rec2, rec1}} {
			r, mate := pair[0], pair[1]
			r.Ref, r.Pos = nil, -1
			r.MateRef, r.MatePos = nil, -1
			gbam.SetFlag(r, sam.MateReverse, mate.Flags&sam.Reverse != 0)
			gbam.SetFlag(r, sam.MateUnmapped, true)
			gbam.DeleteTag(r, gbam.MateMapQTag)
			gbam.DeleteTag(r, gbam.MateCigarTag)
			r.TempLen = 0
		}
	default:
		mapped, unmapped := rec1, rec2
		if unmapped1 {
			mapped, unmapped = rec2, rec1
		}
		// The unmapped read is placed at its mate's coordinate.
		unmapped.Ref, unmapped.Pos = mapped.Ref, mapped.Pos

		mapped.MateRef, mapped.MatePos = unmapped.Ref, unmapped.Pos
		gbam.SetFlag(mapped, sam.MateReverse, unmapped.Flags&sam.Reverse != 0)
		gbam.SetFlag(mapped, sam.MateUnmapped, true)
		gbam.DeleteTag(mapped, gbam.MateCigarTag)
		gbam.DeleteTag(mapped, gbam.MateMapQTag)
		mapped.TempLen = 0

		m.copyMate(unmapped, mapped)
		unmapped.TempLen = 0
		return
	}
	n := insertSize(rec1, rec2)
	rec1.TempLen, rec2.TempLen = n, -n
}

// copyMate sets the mate fields of r from its mapped mate.
func (m *mateSynchronizer) copyMate(r, mate *sam.Record) {
	r.MateRef, r.MatePos = mate.Ref, mate.Pos
	gbam.SetFlag(r, sam.MateReverse, mate.Flags&sam.Reverse != 0)
	gbam.SetFlag(r, sam.MateUnmapped, false)
	mustSetTag(r, gbam.MateMapQTag, int(mate.MapQ))
	m.setMateCigar(r, mate)
}

func (m *mateSynchronizer) setMateCigar(r, mate *sam.Record) {
	if !m.addMateCigar || gbam.IsUnmapped(mate) || len(mate.Cigar) == 0 {
		gbam.DeleteTag(r, gbam.MateCigarTag)
		return
	}
	mustSetTag(r, gbam.MateCigarTag, gbam.CigarString(mate))
	m.stats.MateCigarsAdded++
}

// setSupplementaryMate points a supplementary record at the primary record
// of the other read of the pair.
func (m *mateSynchronizer) setSupplementaryMate(r, mate *sam.Record) {
	r.MateRef, r.MatePos = mate.Ref, mate.Pos
	gbam.SetFlag(r, sam.MateReverse, mate.Flags&sam.Reverse != 0)
	gbam.SetFlag(r, sam.MateUnmapped, gbam.IsUnmapped(mate))
	r.TempLen = -mate.TempLen
	m.setMateCigar(r, mate)
	m.stats.SupplementaryFixed++
}

// clearMateInfo resets the mate fields of a record whose mate is missing.
func clearMateInfo(r *sam.Record) {
	r.MateRef, r.MatePos = nil, -1
	r.TempLen = 0
	gbam.SetFlag(r, sam.MateReverse, false)
	gbam.DeleteTag(r, gbam.MateCigarTag)
	gbam.DeleteTag(r, gbam.MateMapQTag)
}

// insertSize returns the 5' to 5' distance of a mapped pair, signed from the
// point of view of rec1. It is 0 unless both reads map to the same reference.
func insertSize(rec1, rec2 *sam.Record) int {
	if gbam.IsUnmapped(rec1) || gbam.IsUnmapped(rec2) || rec1.Ref == nil || rec1.Ref.ID() != rec2.Ref.ID() {
		return 0
	}
	first5, second5 := gbam.FivePrimePosition(rec1), gbam.FivePrimePosition(rec2)
	adjust := 1
	if second5 < first5 {
		adjust = -1
	}
	return second5 - first5 + adjust
}

// mustSetTag sets a tag whose value type is known to be valid.
func mustSetTag(r *sam.Record, tag sam.Tag, value interface{}) {
	if err := gbam.SetTag(r, tag, value); err != nil {
		panic(err)
	}
}

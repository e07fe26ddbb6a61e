package bam

import (
	"github.com/grailbio/hts/sam"
)

var (
	// MateCigarTag is the aux tag storing the CIGAR string of the mate.
	MateCigarTag = sam.NewTag("MC")
	// MateMapQTag is the aux tag storing the mapping quality of the mate.
	MateMapQTag = sam.NewTag("MQ")
)

// IsPaired returns true if the record comes from a paired-end fragment.
func IsPaired(r *sam.Record) bool { return r.Flags&sam.Paired != 0 }

// IsUnmapped returns true if the record itself is unmapped.
func IsUnmapped(r *sam.Record) bool { return r.Flags&sam.Unmapped != 0 }

// IsSecondary returns true for secondary alignments.
func IsSecondary(r *sam.Record) bool { return r.Flags&sam.Secondary != 0 }

// IsSupplementary returns true for supplementary alignments.
func IsSupplementary(r *sam.Record) bool { return r.Flags&sam.Supplementary != 0 }

// IsPrimary returns true if the record is neither secondary nor supplementary.
func IsPrimary(r *sam.Record) bool {
	return r.Flags&(sam.Secondary|sam.Supplementary) == 0
}

// IsRead1 returns true if the record is the first segment of its fragment.
// Paired records without the first-of-pair flag are treated as the second
// segment.
func IsRead1(r *sam.Record) bool { return r.Flags&sam.Read1 != 0 }

// HasNoMappedMate returns true if record is unpaired or has an unmapped mate.
func HasNoMappedMate(record *sam.Record) bool {
	return (record.Flags&sam.Paired) == 0 || (record.Flags&sam.MateUnmapped) != 0
}

// SetFlag sets or clears the given flag bits.
func SetFlag(r *sam.Record, flag sam.Flags, on bool) {
	if on {
		r.Flags |= flag
	} else {
		r.Flags &^= flag
	}
}

// ReferenceLength returns the number of reference bases covered by the
// alignment.
func ReferenceLength(c sam.Cigar) int {
	n := 0
	for _, op := range c {
		n += op.Len() * op.Type().Consumes().Reference
	}
	return n
}

// AlignmentStart returns the 1-based leftmost mapped position.
func AlignmentStart(r *sam.Record) int {
	return r.Pos + 1
}

// AlignmentEnd returns the 1-based, inclusive rightmost mapped position. For a
// record without a reference-consuming alignment it equals Pos.
func AlignmentEnd(r *sam.Record) int {
	return r.Pos + ReferenceLength(r.Cigar)
}

// FivePrimePosition returns the 1-based position of the 5' end of the read
// on the reference.
func FivePrimePosition(r *sam.Record) int {
	if r.Flags&sam.Reverse != 0 {
		return AlignmentEnd(r)
	}
	return AlignmentStart(r)
}

// CigarString returns the text form of the record's CIGAR, "*" when absent.
func CigarString(r *sam.Record) string {
	if len(r.Cigar) == 0 {
		return "*"
	}
	return r.Cigar.String()
}

// SetTag replaces the value of the given aux tag, appending it if absent. The
// record's AuxFields slice is reallocated, so records sharing aux storage are
// not affected.
func SetTag(r *sam.Record, tag sam.Tag, value interface{}) error {
	aux, err := sam.NewAux(tag, value)
	if err != nil {
		return err
	}
	r.AuxFields = append(removeTag(r.AuxFields, tag), aux)
	return nil
}

// DeleteTag removes every occurrence of the given aux tag.
func DeleteTag(r *sam.Record, tag sam.Tag) {
	if _, ok := TagValue(r, tag); !ok {
		return
	}
	r.AuxFields = removeTag(r.AuxFields, tag)
}

// TagValue returns the value of the given aux tag, if present.
func TagValue(r *sam.Record, tag sam.Tag) (interface{}, bool) {
	for _, a := range r.AuxFields {
		if a.Tag() == tag {
			return a.Value(), true
		}
	}
	return nil, false
}

func removeTag(aux sam.AuxFields, tag sam.Tag) sam.AuxFields {
	out := make(sam.AuxFields, 0, len(aux)+1)
	for _, a := range aux {
		if a.Tag() != tag {
			out = append(out, a)
		}
	}
	return out
}

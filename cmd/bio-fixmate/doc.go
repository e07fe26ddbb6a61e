/*
Command bio-fixmate verifies the mate-pair information of paired reads and
fixes it where needed.

It merges one or more SAM or BAM inputs, groups the records by query name,
and sets the mate reference, position, strand, insert size, MQ and
optionally MC fields of each primary pair from each other. Supplementary
alignments are pointed at the primary record of the other read. Secondary
and unpaired records are copied unchanged.

  bio-fixmate -input a.bam -input b.sam -output fixed.bam -sort-order coordinate -create-index

Without -output, the single input is fixed in place. The fixed data is
written next to the input, the input is renamed to <input>.old, the fixed
file is renamed over the input, and the backup is deleted.

Exit status is 0 on success, 1 when the in-place replacement left files
behind, and 2 on any other error.
*/
package main

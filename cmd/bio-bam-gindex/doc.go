/*Command bio-bam-gindex writes and dumps the .gbai index of a coordinate
  sorted BAM file.

  Usage:
    bio-bam-gindex write [-shard-size=65536] foo.bam [foo.bam.gbai]
    bio-bam-gindex dump foo.bam.gbai

  The index path of write defaults to the BAM path plus ".gbai". A path of
  "-" reads from stdin or writes to stdout:

    cat foo.bam | bio-bam-gindex write - - > foo.bam.gbai
*/
package main

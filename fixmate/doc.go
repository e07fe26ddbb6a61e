// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

/*
Package fixmate repairs the mate-pair fields of paired reads stored in one or
more SAM or BAM files.

Run merges the inputs into one stream ordered by query name, sorting
externally when the inputs are not already name ordered. Each group of
records sharing a name is then resolved: the primary first-of-pair and
second-of-pair records get each other's reference, position and strand, the
MQ tag and optionally the MC tag, and a recomputed insert size.
Supplementary records are pointed at the primary record of the other read.
Secondary and unpaired records pass through unchanged.

The fixed records are written in the requested sort order, re-sorting by
coordinate when needed, optionally followed by a .gbai index. When no output
path is given the single input is replaced in place: the output is staged
beside the input, the input is renamed to <input>.old, the staged file is
renamed over the input, and the backup is removed.
*/
package fixmate

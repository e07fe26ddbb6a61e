// Copyright 2018 GRAIL, Inc. All rights reserved.
// Use of this source code is governed by the Apache 2.0
// license that can be found in the LICENSE file.

// Package bam provides the record-level helpers used by bio-fixmate on top of
// the SAM and BAM packages in github.com/grailbio/hts: flag predicates, aux
// tag editing, a compact BAM record codec used for spill files, and the .gbai
// index writer.
package bam

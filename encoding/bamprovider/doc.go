// Package bamprovider reads and writes SAM and BAM files for bio-fixmate.
//
// A Provider reports the header of one input and yields its records in file
// order through an Iterator. A Writer is the destination of one output file,
// and knows the path of its companion .gbai index.
package bamprovider

// Package biopb holds the protobuf messages persisted by the sorter.
package biopb

//go:generate protoc -I. --gogofaster_out=. sortshard.proto

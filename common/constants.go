package common

const (
	// DefaultPoolSize is the size of the raw memory pool in bytes when nothing else is configured.
	DefaultPoolSize = 1 << 20

	// DefaultMaxBlocks bounds the block header array. Every allocated block and every free extent takes one header.
	DefaultMaxBlocks = 512

	// DefaultMaxOpenFiles is the capacity of the open file table.
	DefaultMaxOpenFiles = 16

	// DefaultMaxNames bounds the number of records in the name directory.
	DefaultMaxNames = 256
)

package cli

// Default values for CLI output.
const (
	// TabWidth is the width of tabs in formatted output.
	TabWidth = 2
	// MaxURLLength is the longest URL shown in record listings.
	MaxURLLength = 60
	// byteUnit is the base for human-readable sizes.
	byteUnit = 1024
)

package pipeline

// Decision is the outcome of the size filter for one repository.
type Decision int

const (
	Admit           Decision = iota
	SkipUnknownSize          // size lookup failed
	SkipEmpty                // size is zero and empty repositories are skipped
	SkipTooLarge             // size exceeds the configured maximum
)

func (d Decision) String() string {
	switch d {
	case Admit:
		return "admit"
	case SkipUnknownSize:
		return "unknown size"
	case SkipEmpty:
		return "empty"
	case SkipTooLarge:
		return "too large"
	default:
		return "unknown"
	}
}

// FilterConfig holds the knobs the size filter depends on.
type FilterConfig struct {
	SkipEmpty bool
	MaxSizeKB int64 // 0 = no limit
}

// Filter decides whether a repository of the given size (kilobytes) moves
// on to cloning. It depends on nothing but its arguments.
func Filter(sizeKB int64, known bool, cfg FilterConfig) Decision {
	switch {
	case !known:
		return SkipUnknownSize
	case sizeKB == 0 && cfg.SkipEmpty:
		return SkipEmpty
	case cfg.MaxSizeKB > 0 && sizeKB > cfg.MaxSizeKB:
		return SkipTooLarge
	default:
		return Admit
	}
}

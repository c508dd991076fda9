package cv

// Bar reader options
type Option func(*readerOptions)

type readerOptions struct {
	whiteThreshold int // levels above this are filled
	emptyMax       int // levels at or below this are empty track
	variation      int // max channel spread for a grayscale column
	edgeAllowance  int // ambiguous columns tolerated at the fill boundary
	trackMinLevel  int // an all-empty bar darker than this is not readable
	trackMaxSpread int // an all-empty bar whose levels spread wider is not a track
}

func defaultReaderOptions() readerOptions {
	return readerOptions{
		whiteThreshold: 250,
		emptyMax:       200,
		variation:      10,
		edgeAllowance:  1,
		trackMinLevel:  16,
		trackMaxSpread: 48,
	}
}

// WithWhiteThreshold sets the level above which a column counts as filled
func WithWhiteThreshold(level int) Option {
	return func(opts *readerOptions) {
		opts.whiteThreshold = level
	}
}

// WithEmptyMax sets the level at or below which a column counts as empty
func WithEmptyMax(level int) Option {
	return func(opts *readerOptions) {
		opts.emptyMax = level
	}
}

// WithVariation sets the color variation tolerance option
func WithVariation(v int) Option {
	return func(opts *readerOptions) {
		opts.variation = v
	}
}

// WithEdgeAllowance sets how many anti-aliased columns may sit on the boundary
func WithEdgeAllowance(n int) Option {
	return func(opts *readerOptions) {
		opts.edgeAllowance = n
	}
}

// WithTrackMinLevel sets the darkest level an empty bar track may have
func WithTrackMinLevel(level int) Option {
	return func(opts *readerOptions) {
		opts.trackMinLevel = level
	}
}

// WithTrackMaxSpread sets how much an empty track's column levels may vary
func WithTrackMaxSpread(spread int) Option {
	return func(opts *readerOptions) {
		opts.trackMaxSpread = spread
	}
}

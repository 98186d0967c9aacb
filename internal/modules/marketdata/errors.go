package marketdata

import "errors"

// Error taxonomy for data retrieval. Callers check these with errors.Is so
// that missing data is never confused with a transient upstream failure.
var (
	// ErrDataUnavailable means no usable data exists for the requested
	// symbols and range.
	ErrDataUnavailable = errors.New("marketdata: data unavailable")

	// ErrRateLimited means the upstream data API rejected us for quota.
	ErrRateLimited = errors.New("marketdata: rate limited by upstream API")

	// ErrNetwork means the upstream data API could not be reached.
	ErrNetwork = errors.New("marketdata: network error")
)

package mail

var (
	ParseDate         = parseDate
	RawFallbackLength = rawFallbackLength
)

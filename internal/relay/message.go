package relay

// ParsedMessage is the protocol engine's view of one fully buffered
// submission, before any relay validation.
type ParsedMessage struct {
	To      []string
	Cc      []string
	Subject string
	Text    string
	HTML    string
}

// Message is the outbound form handed to MIME construction: sender resolved,
// recipients flattened in order, defaults applied. Lives only for the
// duration of one relay call.
type Message struct {
	From    string
	To      []string
	Subject string
	Text    string
	HTML    string
}

package bot

// Button is one inline keyboard action. Data is the opaque callback
// payload routed back through HandleCallback.
type Button struct {
	Label string
	Data  string
}

// Attachment is a file sent along with a reply.
type Attachment struct {
	Name    string
	Content []byte
}

// Response is the transport-neutral reply to one incoming update. The
// chat adapter renders text, buttons and the optional file.
type Response struct {
	Text    string
	Buttons [][]Button
	File    *Attachment
}

func text(s string) Response {
	return Response{Text: s}
}

package domain

// MediaKind is the track type carried by a producer or consumer.
type MediaKind string

const (
	MediaAudio MediaKind = "audio"
	MediaVideo MediaKind = "video"
)

func (k MediaKind) Valid() bool {
	return k == MediaAudio || k == MediaVideo
}

// Direction is the orientation of a transport relative to the client:
// a send transport carries the client's media in, a recv transport carries
// forwarded media out.
type Direction string

const (
	DirectionSend Direction = "send"
	DirectionRecv Direction = "recv"
)

func (d Direction) Valid() bool {
	return d == DirectionSend || d == DirectionRecv
}

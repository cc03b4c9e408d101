// Package wire defines the messages exchanged over the SkinSync gRPC service
// and the CBOR codec they are encoded with.
package wire

// Kind tags the variant carried by an Envelope.
type Kind uint8

// Envelope kinds. Upload* travel participant to server, Skin* and Cleared server to participant.
const (
	KindUpload      Kind = iota + 1 // whole asset in one message
	KindUploadChunk                 // one chunk of an upload
	KindRequest                     // ask for Owner's asset
	KindReset                       // clear the sender's asset
	KindSkin                        // Owner's whole asset in one message
	KindSkinChunk                   // one chunk of Owner's asset
	KindCleared                     // Owner no longer has an asset
)

var kindNames = map[Kind]string{
	KindUpload:      "upload",
	KindUploadChunk: "upload_chunk",
	KindRequest:     "request",
	KindReset:       "reset",
	KindSkin:        "skin",
	KindSkinChunk:   "skin_chunk",
	KindCleared:     "cleared",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// Chunk is one transfer message: display metadata plus a slice of the payload.
type Chunk struct {
	AssetID       string `cbor:"1,keyasint"`
	Name          string `cbor:"2,keyasint,omitempty"`
	Slim          bool   `cbor:"3,keyasint,omitempty"`
	Width         int    `cbor:"4,keyasint"`
	Height        int    `cbor:"5,keyasint"`
	SecondarySize int    `cbor:"6,keyasint,omitempty"`
	TotalSize     int    `cbor:"7,keyasint"`
	Index         int    `cbor:"8,keyasint"`
	Total         int    `cbor:"9,keyasint"`
	Data          []byte `cbor:"10,keyasint"`
}

// Envelope is the single message type of the Session stream.
type Envelope struct {
	Kind  Kind   `cbor:"1,keyasint"`
	Owner string `cbor:"2,keyasint,omitempty"` // participant the message is about (request target, skin owner)
	Chunk *Chunk `cbor:"3,keyasint,omitempty"`
}

// --- Admin ---

// ResyncRequest re-broadcasts one owner's record, or the whole cache when Participant is empty.
type ResyncRequest struct {
	Participant string `cbor:"1,keyasint,omitempty"`
}

// ResyncReply reports how many records were sent.
type ResyncReply struct {
	Sent  int  `cbor:"1,keyasint"`
	Found bool `cbor:"2,keyasint"`
}

// StatusRequest asks for coordinator counters.
type StatusRequest struct{}

// StatusReply carries coordinator counters.
type StatusReply struct {
	Cached       int  `cbor:"1,keyasint"`
	Participants int  `cbor:"2,keyasint"`
	PendingJoins int  `cbor:"3,keyasint"`
	Persistence  bool `cbor:"4,keyasint"`
}

// ReloadRequest reloads the cache from the durable store.
type ReloadRequest struct{}

// ReloadReply reports loaded records and resync sends.
type ReloadReply struct {
	Loaded int `cbor:"1,keyasint"`
	Sent   int `cbor:"2,keyasint"`
}

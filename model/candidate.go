package model

// Capability is a category of generation work. Each capability owns its own
// ordered candidate list; exhausting one list never affects another.
type Capability string

const (
	CapabilityText          Capability = "text"
	CapabilityImageGenerate Capability = "image-generate"
	CapabilityImageEdit     Capability = "image-edit"
	// CapabilityDescribe is the cheap multimodal call used by the
	// describe-then-generate edit fallback.
	CapabilityDescribe Capability = "describe"
)

// Transport names the wire shape a model candidate speaks. The two shapes
// have different request/response forms and are handled as distinct code
// paths, never unified.
type Transport string

const (
	// TransportContent is the inline generateContent shape: the payload
	// embeds input bytes or text and the response embeds output inline,
	// possibly alongside explanatory text.
	TransportContent Transport = "content"
	// TransportPredict is the batch shape: the payload is an "instances"
	// array and the response is a "predictions" array of base64 artifacts.
	TransportPredict Transport = "predict"
)

// ModelCandidate is one backend variant within a capability's fallback
// list. Lists are ordered by preference; the resolver only ever advances a
// cursor over them.
type ModelCandidate struct {
	Model      string     `json:"model"`
	Capability Capability `json:"capability"`
	Transport  Transport  `json:"transport"`
}

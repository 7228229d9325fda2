package modelsession

// Outbound message envelopes. The wire shape mirrors the teacher's
// hand-rolled OpenAI Realtime client (session.update / input_audio_buffer /
// conversation.item.create / response.create / response.cancel), generalised
// to a provider-agnostic Model Session contract per spec.md §6.

type sessionUpdateMessage struct {
	Type    string        `json:"type"`
	Session sessionParams `json:"session"`
}

type sessionParams struct {
	Instructions string       `json:"instructions,omitempty"`
	Tools        []wireTool   `json:"tools,omitempty"`
}

type wireTool struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type appendAudioMessage struct {
	Type       string `json:"type"`
	Audio      string `json:"audio"`
	Final      bool   `json:"final,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
	Encoding   string `json:"encoding,omitempty"`
	DurationMs int    `json:"duration_ms,omitempty"`
	Speaker    string `json:"speaker,omitempty"`
}

type createConversationItemMessage struct {
	Type string           `json:"type"`
	Item conversationItem `json:"item"`
}

type conversationItem struct {
	Type    string             `json:"type"`
	Role    string             `json:"role,omitempty"`
	Content []conversationPart `json:"content,omitempty"`
	CallID  string             `json:"call_id,omitempty"`
	Output  string             `json:"output,omitempty"`
}

type conversationPart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

type responseCreateMessage struct {
	Type string `json:"type"`
}

type responseCancelMessage struct {
	Type string `json:"type"`
}

// Inbound server event envelope. Field usage differs per evt.Type, following
// the teacher's flat-struct-with-omitempty decoding style.
type serverEvent struct {
	Type string `json:"type"`

	SessionID string `json:"session_id,omitempty"`

	// response.text.delta / response.text.done / transcription.delta /
	// transcription.completed
	Delta      string `json:"delta,omitempty"`
	Transcript string `json:"transcript,omitempty"`

	// tool_call
	Name      string `json:"name,omitempty"`
	Arguments string `json:"arguments,omitempty"`
	CallID    string `json:"call_id,omitempty"`

	// error
	Error *serverErrorDetail `json:"error,omitempty"`
}

type serverErrorDetail struct {
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

func toWireTools(tools []ToolDefinition) []wireTool {
	out := make([]wireTool, len(tools))
	for i, t := range tools {
		out[i] = wireTool{
			Type:        "function",
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		}
	}
	return out
}

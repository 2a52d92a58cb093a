package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

const (
	// EncodingPCM asks the server for raw 16-bit little-endian PCM.
	EncodingPCM = "pcm"
	// TextTypePlain marks the request text as plain text (not SSML).
	TextTypePlain = "plain"
	// OperationSubmit requests streamed synthesis over the websocket.
	OperationSubmit = "submit"

	// bodyToken is sent in app.token; the real credential travels in the
	// Authorization header of the handshake.
	bodyToken = "access_token"
)

// AppParams identifies the calling application.
type AppParams struct {
	AppID   string `json:"appid"`
	Token   string `json:"token"`
	Cluster string `json:"cluster"`
}

// UserParams identifies the end user.
type UserParams struct {
	UID string `json:"uid"`
}

// AudioParams controls the synthesized voice.
type AudioParams struct {
	Voice       string  `json:"voice"`
	VoiceType   string  `json:"voice_type"`
	Encoding    string  `json:"encoding"`
	SpeedRatio  float64 `json:"speed_ratio"`
	VolumeRatio float64 `json:"volume_ratio"`
	PitchRatio  float64 `json:"pitch_ratio"`
}

// RequestParams carries the text and the operation.
type RequestParams struct {
	ReqID     string `json:"reqid"`
	Text      string `json:"text"`
	TextType  string `json:"text_type"`
	Operation string `json:"operation"`
}

// SynthesisRequest is the JSON document sent in the full client request.
type SynthesisRequest struct {
	App     AppParams     `json:"app"`
	User    UserParams    `json:"user"`
	Audio   AudioParams   `json:"audio"`
	Request RequestParams `json:"request"`
}

// RequestOptions are the per-client values of a synthesis request.
type RequestOptions struct {
	AppID       string
	Cluster     string
	UID         string
	Voice       string
	VoiceType   string
	SpeedRatio  float64
	VolumeRatio float64
	PitchRatio  float64
}

// NewSynthesisRequest builds a submit request for text with a fresh request id.
func NewSynthesisRequest(opts RequestOptions, text string) SynthesisRequest {
	return SynthesisRequest{
		App: AppParams{
			AppID:   opts.AppID,
			Token:   bodyToken,
			Cluster: opts.Cluster,
		},
		User: UserParams{UID: opts.UID},
		Audio: AudioParams{
			Voice:       opts.Voice,
			VoiceType:   opts.VoiceType,
			Encoding:    EncodingPCM,
			SpeedRatio:  opts.SpeedRatio,
			VolumeRatio: opts.VolumeRatio,
			PitchRatio:  opts.PitchRatio,
		},
		Request: RequestParams{
			ReqID:     uuid.New().String(),
			Text:      text,
			TextType:  TextTypePlain,
			Operation: OperationSubmit,
		},
	}
}

// Frame serializes the request and wraps it in a gzip-compressed full client
// request frame.
func (r SynthesisRequest) Frame() ([]byte, error) {
	payload, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshal synthesis request: %w", err)
	}
	return Encode(payload, true)
}

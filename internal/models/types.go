package models

import (
	"context"
	"strings"
)

// ElementType tags one element of an incoming or outgoing message chain.
type ElementType string

const (
	ElementText  ElementType = "text"
	ElementImage ElementType = "image"
	ElementVoice ElementType = "voice"
)

// Element is one piece of a message chain: text, an image, or a voice clip.
type Element struct {
	Type  ElementType
	Text  string
	Bytes []byte
	// Format is set for voice elements (wav, mp3, silk).
	Format string
}

// MessageChain is the ordered content of one IM message.
type MessageChain []Element

// PlainText joins the text elements of the chain.
func (c MessageChain) PlainText() string {
	var b strings.Builder
	for _, e := range c {
		if e.Type == ElementText {
			b.WriteString(e.Text)
		}
	}
	return b.String()
}

// Images returns the image elements of the chain.
func (c MessageChain) Images() [][]byte {
	var out [][]byte
	for _, e := range c {
		if e.Type == ElementImage {
			out = append(out, e.Bytes)
		}
	}
	return out
}

// Request is one inbound message handed to the dispatcher by an IM
// adapter. It is immutable once constructed.
type Request struct {
	SessionID string
	UserID    string
	GroupID   string
	Nickname  string
	IsManager bool
	Message   MessageChain
}

// IsGroup reports whether the session belongs to a group chat. Session
// ids are formed as "<chat-type>-<chat-id>".
func (r *Request) IsGroup() bool {
	return strings.HasPrefix(r.SessionID, "group-")
}

// SendFunc delivers one artifact back to the originating chat.
type SendFunc func(ctx context.Context, artifact *Artifact) error

// Response is the mutable holder threaded through the middleware chain.
// Middlewares may overwrite the artifact fields before forwarding.
type Response struct {
	Chain MessageChain
	Text  string
	Voice []byte
	Image []byte

	send SendFunc
}

// NewResponse binds a response to the IM adapter's send callback.
func NewResponse(send SendFunc) *Response {
	return &Response{send: send}
}

// Send emits one artifact through the bound IM adapter.
func (r *Response) Send(ctx context.Context, artifact *Artifact) error {
	if r.send == nil {
		return nil
	}
	return r.send(ctx, artifact)
}

// ArtifactType tags a renderer pipeline product.
type ArtifactType string

const (
	ArtifactText  ArtifactType = "text"
	ArtifactImage ArtifactType = "image"
	ArtifactVoice ArtifactType = "voice"
	ArtifactMixed ArtifactType = "mixed"
)

// Artifact is one deliverable produced by the renderer pipeline or by a
// collaborator (drawing, TTS).
type Artifact struct {
	Type  ArtifactType
	Text  string
	Bytes []byte
	// Format is set for voice artifacts (wav, mp3, silk).
	Format string
	// Parts is set for mixed artifacts: an ordered interleaving of
	// text and image parts.
	Parts []Artifact
}

// TextArtifact builds a plain text artifact.
func TextArtifact(s string) *Artifact {
	return &Artifact{Type: ArtifactText, Text: s}
}

// ImageArtifact builds an image artifact.
func ImageArtifact(b []byte) *Artifact {
	return &Artifact{Type: ArtifactImage, Bytes: b}
}

// VoiceArtifact builds a voice artifact.
func VoiceArtifact(b []byte, format string) *Artifact {
	return &Artifact{Type: ArtifactVoice, Bytes: b, Format: format}
}

// IsEmpty reports whether the artifact carries no content.
func (a *Artifact) IsEmpty() bool {
	if a == nil {
		return true
	}
	switch a.Type {
	case ArtifactText:
		return strings.TrimSpace(a.Text) == ""
	case ArtifactImage, ArtifactVoice:
		return len(a.Bytes) == 0
	case ArtifactMixed:
		return len(a.Parts) == 0
	}
	return true
}

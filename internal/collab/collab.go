// Package collab defines the narrow contracts of the core's external
// collaborators: drawing, text-to-speech, content moderation and
// markdown bitmap rendering. Default implementations speak
// openai-compatible HTTP endpoints; all of them are swappable.
package collab

import "context"

// Drawing generates images from prompts.
type Drawing interface {
	TextToImage(ctx context.Context, prompt string) ([][]byte, error)
	ImageToImage(ctx context.Context, images [][]byte, prompt string) ([][]byte, error)
}

// TTSResponse is synthesized speech in one transcodable format.
type TTSResponse struct {
	Data   []byte
	Format string
}

// TTS synthesizes speech.
type TTS interface {
	Speak(ctx context.Context, text, voice string) (*TTSResponse, error)
	Transcode(ctx context.Context, resp *TTSResponse, toFormat string) (*TTSResponse, error)
}

// Moderator checks outgoing text. A nil Moderator disables the check.
type Moderator interface {
	Check(ctx context.Context, text string) (allowed bool, reason string, err error)
}

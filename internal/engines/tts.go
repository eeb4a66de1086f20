package engines

import (
	"context"
	"fmt"

	texttospeech "cloud.google.com/go/texttospeech/apiv1"
	"cloud.google.com/go/texttospeech/apiv1/texttospeechpb"
	"google.golang.org/api/option"

	"github.com/aulavoz/backend/internal/text"
)

// Voice defaults.
const (
	DefaultLanguage = "pt-BR"
	DefaultVoice    = "pt-BR-Wavenet-A"
)

// TTSConfig configures Google Cloud Text-to-Speech.
type TTSConfig struct {
	CredentialsFile string // empty uses application default credentials
	Language        string
	Voice           string
	SpeakingRate    float64
}

// GoogleSynthesizer renders SSML chunks to MP3 with Cloud Text-to-Speech.
type GoogleSynthesizer struct {
	client *texttospeech.Client
	cfg    TTSConfig
}

// NewGoogleSynthesizer creates a Text-to-Speech client.
func NewGoogleSynthesizer(ctx context.Context, cfg TTSConfig) (*GoogleSynthesizer, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	if cfg.Language == "" {
		cfg.Language = DefaultLanguage
	}
	if cfg.Voice == "" {
		cfg.Voice = DefaultVoice
	}
	if cfg.SpeakingRate <= 0 {
		cfg.SpeakingRate = 1.0
	}
	client, err := texttospeech.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("tts client: %w", err)
	}
	return &GoogleSynthesizer{client: client, cfg: cfg}, nil
}

// Synthesize wraps chunk in SSML with pauses and returns the MP3 bytes.
func (s *GoogleSynthesizer) Synthesize(ctx context.Context, chunk string) ([]byte, error) {
	resp, err := s.client.SynthesizeSpeech(ctx, &texttospeechpb.SynthesizeSpeechRequest{
		Input: &texttospeechpb.SynthesisInput{
			InputSource: &texttospeechpb.SynthesisInput_Ssml{Ssml: text.SSML(chunk)},
		},
		Voice: &texttospeechpb.VoiceSelectionParams{
			LanguageCode: s.cfg.Language,
			Name:         s.cfg.Voice,
		},
		AudioConfig: &texttospeechpb.AudioConfig{
			AudioEncoding: texttospeechpb.AudioEncoding_MP3,
			SpeakingRate:  s.cfg.SpeakingRate,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("synthesize speech: %w", err)
	}
	if len(resp.GetAudioContent()) == 0 {
		return nil, fmt.Errorf("synthesize speech: empty audio")
	}
	return resp.GetAudioContent(), nil
}

// Close releases the underlying client.
func (s *GoogleSynthesizer) Close() error {
	return s.client.Close()
}

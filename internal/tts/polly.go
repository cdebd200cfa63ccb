package tts

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/polly"
	pollytypes "github.com/aws/aws-sdk-go-v2/service/polly/types"
)

// SpeechResult is the raw provider output.
type SpeechResult struct {
	Audio       []byte
	ContentType string
}

// Provider is the synthesis boundary. Tests supply fakes; production
// uses Polly.
type Provider interface {
	Synthesize(ctx context.Context, text string, voice Voice, sampleRate string) (SpeechResult, error)
}

type pollyAPI interface {
	SynthesizeSpeech(ctx context.Context, params *polly.SynthesizeSpeechInput, optFns ...func(*polly.Options)) (*polly.SynthesizeSpeechOutput, error)
}

// PollyProvider synthesizes mp3 audio with AWS Polly neural and
// standard voices.
type PollyProvider struct {
	client pollyAPI
}

func NewPollyProvider(ctx context.Context, region string) (*PollyProvider, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &PollyProvider{client: polly.NewFromConfig(awsCfg)}, nil
}

func newPollyProviderWithClient(client pollyAPI) *PollyProvider {
	return &PollyProvider{client: client}
}

func (p *PollyProvider) Synthesize(ctx context.Context, text string, voice Voice, sampleRate string) (SpeechResult, error) {
	engine := pollytypes.EngineStandard
	if voice.Engine == "neural" {
		engine = pollytypes.EngineNeural
	}
	out, err := p.client.SynthesizeSpeech(ctx, &polly.SynthesizeSpeechInput{
		Engine:       engine,
		OutputFormat: pollytypes.OutputFormatMp3,
		SampleRate:   aws.String(sampleRate),
		Text:         aws.String(text),
		VoiceId:      pollytypes.VoiceId(voice.ID),
	})
	if err != nil {
		return SpeechResult{}, fmt.Errorf("polly synthesize: %w", err)
	}
	defer out.AudioStream.Close()

	audio, err := io.ReadAll(out.AudioStream)
	if err != nil {
		return SpeechResult{}, fmt.Errorf("read polly audio stream: %w", err)
	}
	contentType := aws.ToString(out.ContentType)
	if contentType == "" {
		contentType = "audio/mpeg"
	}
	return SpeechResult{Audio: audio, ContentType: contentType}, nil
}

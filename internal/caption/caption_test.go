package caption

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-hazard-pipeline/internal/detection"
	"github.com/tendant/simple-hazard-pipeline/internal/prompt"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    Result
		outcome Outcome
	}{
		{
			name:    "not json",
			raw:     "not json",
			want:    Result{Caption: FallbackCaption},
			outcome: OutcomeMalformed,
		},
		{
			name:    "prefill only",
			raw:     "{",
			want:    Result{Caption: FallbackCaption},
			outcome: OutcomeMalformed,
		},
		{
			name:    "well formed",
			raw:     `{"image_caption": "Two workers on a scaffold.", "classification": 1, "risk_level": 7}`,
			want:    Result{Caption: "Two workers on a scaffold.", Classification: 1, RiskLevel: 7},
			outcome: OutcomeOK,
		},
		{
			name:    "tags stripped",
			raw:     `{"image_caption": "<caption>Queue at the lift.</caption>", "classification": 0, "risk_level": 2}`,
			want:    Result{Caption: "Queue at the lift.", RiskLevel: 2},
			outcome: OutcomeOK,
		},
		{
			name:    "numeric strings",
			raw:     `{"image_caption": "x", "classification": "1", "risk_level": "8"}`,
			want:    Result{Caption: "x", Classification: 1, RiskLevel: 8},
			outcome: OutcomeOK,
		},
		{
			name:    "bool classification",
			raw:     `{"image_caption": "x", "classification": true, "risk_level": 6}`,
			want:    Result{Caption: "x", Classification: 1, RiskLevel: 6},
			outcome: OutcomeOK,
		},
		{
			name:    "raw newline in caption and trailing text",
			raw:     "{\"image_caption\": \"line one\nline two\", \"classification\": 0, \"risk_level\": 1}\nHope this helps.",
			want:    Result{Caption: "line one\nline two", RiskLevel: 1},
			outcome: OutcomeOK,
		},
		{
			name:    "missing risk level",
			raw:     `{"image_caption": "x", "classification": 1}`,
			want:    Result{Caption: FallbackCaption},
			outcome: OutcomeMissingKeys,
		},
		{
			name:    "classification out of range keeps caption",
			raw:     `{"image_caption": "x", "classification": 3, "risk_level": 6}`,
			want:    Result{Caption: "x", Classification: 1, RiskLevel: 6},
			outcome: OutcomeClamped,
		},
		{
			name:    "risk above scale keeps caption",
			raw:     `{"image_caption": "Open trench, no barrier.", "classification": 1, "risk_level": 12}`,
			want:    Result{Caption: "Open trench, no barrier.", Classification: 1, RiskLevel: 10},
			outcome: OutcomeClamped,
		},
		{
			name:    "negative scores clamp to zero",
			raw:     `{"image_caption": "x", "classification": -1, "risk_level": "-4"}`,
			want:    Result{Caption: "x"},
			outcome: OutcomeClamped,
		},
		{
			name:    "fractional risk",
			raw:     `{"image_caption": "x", "classification": 1, "risk_level": 6.5}`,
			want:    Result{Caption: FallbackCaption},
			outcome: OutcomeMalformed,
		},
		{
			name:    "caption not a string",
			raw:     `{"image_caption": 12, "classification": 1, "risk_level": 6}`,
			want:    Result{Caption: FallbackCaption},
			outcome: OutcomeMalformed,
		},
		{
			name:    "array",
			raw:     `[1, 2]`,
			want:    Result{Caption: FallbackCaption},
			outcome: OutcomeMalformed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Parse(tt.raw)
			assert.Equal(t, tt.outcome, got.Outcome)
			assert.Equal(t, tt.outcome == OutcomeMalformed || tt.outcome == OutcomeMissingKeys, got.IsFallback())
			assert.Equal(t, tt.want.Caption, got.Caption)
			assert.Equal(t, tt.want.Classification, got.Classification)
			assert.Equal(t, tt.want.RiskLevel, got.RiskLevel)
			assert.Equal(t, tt.raw, got.Raw)
		})
	}
}

func TestStripTags(t *testing.T) {
	assert.Equal(t, "a b c", StripTags("a <x>b</x> c"))
	assert.Equal(t, "no tags", StripTags("no tags"))
}

type fakeInvoker struct {
	reply string
	err   error
	got   Request
}

func (f *fakeInvoker) Invoke(ctx context.Context, req Request) (string, error) {
	f.got = req
	return f.reply, f.err
}

func TestCaptioner_Caption(t *testing.T) {
	inv := &fakeInvoker{reply: `"image_caption": "Safe.", "classification": 0, "risk_level": 1}`}
	c := NewCaptioner(inv, 0, zerolog.Nop())

	png := []byte("\x89PNG\r\n\x1a\n0000")
	labels := []detection.LabelSummary{{Name: "Person", Confidence: 99}}
	ppe := detection.PPESummary{PersonCount: 1, Persons: []detection.WorkerSummary{}, ObservedAt: "d"}
	tmpl := prompt.Template{ID: "default", Text: "L={rekognition_label} P={rekognition_ppe}"}

	got, err := c.Caption(context.Background(), tmpl, labels, ppe, png)
	require.NoError(t, err)
	assert.Equal(t, OutcomeOK, got.Outcome)
	assert.Equal(t, "Safe.", got.Caption)

	assert.Equal(t, SystemInstruction, inv.got.System)
	assert.Equal(t, Prefill, inv.got.Prefill)
	assert.Equal(t, DefaultMaxTokens, inv.got.MaxTokens)
	assert.Equal(t, "image/png", inv.got.MediaType)
	assert.Equal(t, base64.StdEncoding.EncodeToString(png), inv.got.ImageBase64)
	assert.Equal(t, `L=[{"Name":"Person","Confidence":99}] P={"Number of Persons":1,"Persons":[],"Current Time":"d"}`, inv.got.Prompt)
}

func TestCaptioner_FallbackIsNotAnError(t *testing.T) {
	c := NewCaptioner(&fakeInvoker{reply: "I cannot help with that."}, 100, zerolog.Nop())

	got, err := c.Caption(context.Background(), prompt.Template{}, nil, detection.PPESummary{}, []byte{0xff, 0xd8, 0xff})
	require.NoError(t, err)
	assert.True(t, got.IsFallback())
	assert.Equal(t, "{I cannot help with that.", got.Raw)
}

func TestCaptioner_InferenceErrorPropagates(t *testing.T) {
	boom := errors.New("throttling")
	c := NewCaptioner(&fakeInvoker{err: boom}, 0, zerolog.Nop())

	_, err := c.Caption(context.Background(), prompt.Template{}, nil, detection.PPESummary{}, nil)
	assert.ErrorIs(t, err, boom)
}

func TestMediaType(t *testing.T) {
	assert.Equal(t, "image/jpeg", MediaType([]byte{0xff, 0xd8, 0xff, 0xe0}))
	assert.Equal(t, "image/png", MediaType([]byte("\x89PNG\r\n\x1a\n")))
	assert.Equal(t, "image/jpeg", MediaType([]byte("hello")))
}

type fakeBedrock struct {
	in  *bedrockruntime.InvokeModelInput
	out string
}

func (f *fakeBedrock) InvokeModel(ctx context.Context, in *bedrockruntime.InvokeModelInput, _ ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error) {
	f.in = in
	return &bedrockruntime.InvokeModelOutput{Body: []byte(f.out)}, nil
}

func TestBedrockInvoker_RequestShape(t *testing.T) {
	fake := &fakeBedrock{out: `{"content":[{"type":"text","text":"\"image_caption\": \"ok\"}"}]}`}
	inv := NewBedrockInvoker(fake, "anthropic.claude-3-sonnet")

	text, err := inv.Invoke(context.Background(), Request{
		System: SystemInstruction, Prompt: "describe", ImageBase64: "AAAA",
		MediaType: "image/jpeg", Prefill: Prefill, MaxTokens: 4000,
	})
	require.NoError(t, err)
	assert.Equal(t, `"image_caption": "ok"}`, text)
	assert.Equal(t, "anthropic.claude-3-sonnet", inv.ModelID())
	assert.Equal(t, inv.ModelID(), *fake.in.ModelId)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(fake.in.Body, &body))
	assert.Equal(t, "bedrock-2023-05-31", body["anthropic_version"])
	assert.Equal(t, float64(4000), body["max_tokens"])
	assert.Equal(t, SystemInstruction, body["system"])

	messages := body["messages"].([]interface{})
	require.Len(t, messages, 2)

	user := messages[0].(map[string]interface{})
	assert.Equal(t, "user", user["role"])
	blocks := user["content"].([]interface{})
	require.Len(t, blocks, 2)
	img := blocks[0].(map[string]interface{})
	assert.Equal(t, "image", img["type"])
	assert.Equal(t, map[string]interface{}{"type": "base64", "media_type": "image/jpeg", "data": "AAAA"}, img["source"])
	assert.Equal(t, "describe", blocks[1].(map[string]interface{})["text"])

	assistant := messages[1].(map[string]interface{})
	assert.Equal(t, "assistant", assistant["role"])
	assert.Equal(t, "{", assistant["content"].([]interface{})[0].(map[string]interface{})["text"])
}

func TestBedrockInvoker_NoText(t *testing.T) {
	inv := NewBedrockInvoker(&fakeBedrock{out: `{"content":[]}`}, "m")
	_, err := inv.Invoke(context.Background(), Request{})
	assert.Error(t, err)
}

package internal_stt

import (
	"os"
	"path/filepath"
	"testing"

	"cloud.google.com/go/speech/apiv2/speechpb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecognitionConfig_Defaults(t *testing.T) {
	cfg := Config{ProjectID: "test-project"}
	rc := cfg.RecognitionConfig()

	decoding := rc.GetExplicitDecodingConfig()
	require.NotNil(t, decoding)
	assert.Equal(t, speechpb.ExplicitDecodingConfig_LINEAR16, decoding.Encoding)
	assert.Equal(t, int32(16000), decoding.SampleRateHertz)
	assert.Equal(t, int32(1), decoding.AudioChannelCount)

	assert.Equal(t, []string{"ko-KR"}, rc.LanguageCodes)
	assert.Equal(t, "telephony", rc.Model)
	assert.True(t, rc.Features.EnableAutomaticPunctuation)
	assert.Nil(t, rc.Adaptation)
}

func TestRecognitionConfig_PhraseAdaptation(t *testing.T) {
	cfg := Config{
		ProjectID:   "test-project",
		Phrases:     []string{"환불", "주문번호"},
		PhraseBoost: 15,
	}
	rc := cfg.RecognitionConfig()

	require.NotNil(t, rc.Adaptation)
	require.Len(t, rc.Adaptation.PhraseSets, 1)
	inline := rc.Adaptation.PhraseSets[0].GetInlinePhraseSet()
	require.NotNil(t, inline)
	require.Len(t, inline.Phrases, 2)
	assert.Equal(t, "환불", inline.Phrases[0].Value)
	assert.Equal(t, float32(15), inline.Phrases[0].Boost)
}

func TestStreamingConfig_InterimResults(t *testing.T) {
	cfg := Config{ProjectID: "test-project"}
	sc := cfg.StreamingConfig()

	assert.True(t, sc.StreamingFeatures.InterimResults)
	assert.False(t, sc.StreamingFeatures.EnableVoiceActivityEvents)
	assert.NotNil(t, sc.Config)
}

func TestRecognizer_Path(t *testing.T) {
	cfg := Config{ProjectID: "my-project"}
	assert.Equal(t, "projects/my-project/locations/global/recognizers/_", cfg.Recognizer())
}

func TestResolveProjectID_FromCredentials(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sa.json")
	require.NoError(t, os.WriteFile(path,
		[]byte(`{"type":"service_account","project_id":"aicc-prod"}`), 0o600))

	cfg := Config{CredentialsPath: path}
	require.NoError(t, cfg.ResolveProjectID())
	assert.Equal(t, "aicc-prod", cfg.ProjectID)
}

func TestResolveProjectID_ExplicitWins(t *testing.T) {
	cfg := Config{ProjectID: "explicit", CredentialsPath: "/does/not/exist.json"}
	require.NoError(t, cfg.ResolveProjectID())
	assert.Equal(t, "explicit", cfg.ProjectID)
}

func TestResolveProjectID_MissingFile(t *testing.T) {
	cfg := Config{CredentialsPath: "/does/not/exist.json"}
	assert.Error(t, cfg.ResolveProjectID())
}

func TestResolveProjectID_NoProjectInFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sa.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"type":"service_account"}`), 0o600))

	cfg := Config{CredentialsPath: path}
	assert.Error(t, cfg.ResolveProjectID())
}

func TestWithDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, DefaultLanguageCode, cfg.Language)
	assert.Equal(t, DefaultModel, cfg.Model)
	assert.Equal(t, DefaultRotationInterval, cfg.RotationInterval)
	assert.Equal(t, DefaultAudioQueueSize, cfg.AudioQueueSize)
	assert.Equal(t, DefaultPhraseBoost, cfg.PhraseBoost)
}

package processor

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"time"

	"cognispeech/internal/models"
)

var sentimentLabels = []string{"POSITIVE", "NEUTRAL", "NEGATIVE"}

var emotionLabels = []string{"neutral", "joy", "sadness", "surprise"}

// Stub simulates the analysis engine for development and tests. It
// sleeps for the configured latency, honors cancellation, and returns a
// report derived deterministically from the subject reference. Subjects
// containing "fail" simulate an engine crash; "fail-permanent" marks the
// failure as not worth retrying.
type Stub struct {
	Latency time.Duration
}

var _ Processor = (*Stub)(nil)

// Process synthesizes an analysis outcome for subjectRef.
func (s *Stub) Process(ctx context.Context, subjectRef string) (*models.AnalysisReport, error) {
	if s.Latency > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.Latency):
		}
	}

	switch {
	case strings.Contains(subjectRef, "fail-permanent"):
		return nil, &Error{Kind: models.FailureProcessor, Message: "recording rejected: unusable signal", Retryable: false}
	case strings.Contains(subjectRef, "fail"):
		return nil, &Error{Kind: models.FailureProcessor, Message: "analysis pipeline crashed", Retryable: true}
	}

	return SynthesizeReport(subjectRef), nil
}

// SynthesizeReport builds a plausible report from the subject reference
// alone, following the value ranges of the real pipeline's fallback
// metrics. The same subject always yields the same report.
func SynthesizeReport(subjectRef string) *models.AnalysisReport {
	h := fnv.New32a()
	h.Write([]byte(subjectRef))
	seed := h.Sum32()

	pitch := 120.0 + float64(seed%200)
	if pitch < 80 {
		pitch = 80
	}
	if pitch > 400 {
		pitch = 400
	}

	return &models.AnalysisReport{
		MeanPitchHz:         pitch,
		PitchStdHz:          25.0 + float64(seed%10),
		JitterLocalPercent:  1.0 + float64(seed%5)/10.0,
		ShimmerLocalPercent: 2.0 + float64(seed%7)/10.0,
		MeanHNRDb:           15.0 + float64(seed%8),
		MFCC1Mean:           float64(int(seed%41)-20) / 10.0,
		SpeechRateSPS:       3.5 + float64(seed%15)/10.0,
		TranscriptText:      fmt.Sprintf("synthesized transcript for %s", subjectRef),
		SentimentLabel:      sentimentLabels[seed%3],
		SentimentScore:      0.5 + float64(seed%50)/100.0,
		SummaryText:         "Fluent speech with stable phonation and typical prosody.",
		DominantEmotion:     emotionLabels[seed%4],
		EmotionConfidence:   0.6 + float64(seed%40)/100.0,
	}
}

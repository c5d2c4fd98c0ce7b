package models

// AnalysisReport is the payload the Processor produces for a completed job.
// The coordination layer treats it as opaque and persists it verbatim; the
// fields mirror the summary metrics of the voice analysis pipeline.
type AnalysisReport struct {
	MeanPitchHz         float64 `json:"mean_pitch_hz,omitempty" bson:"mean_pitch_hz,omitempty"`
	PitchStdHz          float64 `json:"pitch_std_hz,omitempty" bson:"pitch_std_hz,omitempty"`
	JitterLocalPercent  float64 `json:"jitter_local_percent,omitempty" bson:"jitter_local_percent,omitempty"`
	ShimmerLocalPercent float64 `json:"shimmer_local_percent,omitempty" bson:"shimmer_local_percent,omitempty"`
	MeanHNRDb           float64 `json:"mean_hnr_db,omitempty" bson:"mean_hnr_db,omitempty"`
	MFCC1Mean           float64 `json:"mfcc_1_mean,omitempty" bson:"mfcc_1_mean,omitempty"`
	SpeechRateSPS       float64 `json:"speech_rate_sps,omitempty" bson:"speech_rate_sps,omitempty"`
	TranscriptText      string  `json:"transcript_text,omitempty" bson:"transcript_text,omitempty"`
	SentimentLabel      string  `json:"sentiment_label,omitempty" bson:"sentiment_label,omitempty"`
	SentimentScore      float64 `json:"sentiment_score,omitempty" bson:"sentiment_score,omitempty"`
	SummaryText         string  `json:"summary_text,omitempty" bson:"summary_text,omitempty"`
	DominantEmotion     string  `json:"dominant_emotion,omitempty" bson:"dominant_emotion,omitempty"`
	EmotionConfidence   float64 `json:"emotion_confidence,omitempty" bson:"emotion_confidence,omitempty"`
}

package model

import "fmt"

// Endpoint names used in GatewayError.
const (
	EndpointGenerateExplanation = "generateExplanation"
	EndpointGenerateQuiz        = "generateQuiz"
	EndpointExplainFurther      = "explainFurther"
	EndpointTranscribeAudio     = "transcribeAudio"
	EndpointSynthesizeSpeech    = "synthesizeSpeech"
	EndpointSearchImage         = "searchImage"
	EndpointTranslateText       = "translateText"
)

// ValidationError reports a missing or blank required input. No network call is made.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// GatewayError reports a failed call to an external service.
type GatewayError struct {
	Endpoint   string
	StatusCode int // 0 when no response was received
	Err        error
}

func (e *GatewayError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("gateway %s: status %d: %v", e.Endpoint, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("gateway %s: %v", e.Endpoint, e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// StorageCorruptError reports a persisted blob that could not be decoded.
type StorageCorruptError struct {
	Key string
	Err error
}

func (e *StorageCorruptError) Error() string {
	return fmt.Sprintf("corrupt storage entry %q: %v", e.Key, e.Err)
}

func (e *StorageCorruptError) Unwrap() error { return e.Err }

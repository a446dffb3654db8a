package riva

import (
	"fmt"
	"math"
	"strings"

	"google.golang.org/protobuf/encoding/protowire"
)

// Field numbers from nvidia.riva.asr (riva_asr.proto).
const (
	fieldRequestStreamingConfig protowire.Number = 1
	fieldRequestAudioContent    protowire.Number = 2

	fieldStreamingConfigConfig  protowire.Number = 1
	fieldStreamingConfigInterim protowire.Number = 2

	fieldConfigEncoding     protowire.Number = 1
	fieldConfigSampleRate   protowire.Number = 2
	fieldConfigLanguageCode protowire.Number = 3
	fieldConfigMaxAlts      protowire.Number = 4
	fieldConfigContexts     protowire.Number = 6
	fieldConfigChannels     protowire.Number = 7
	fieldConfigPunctuation  protowire.Number = 11
	fieldConfigModel        protowire.Number = 13

	fieldContextPhrases protowire.Number = 1
	fieldContextBoost   protowire.Number = 4

	fieldResponseResults protowire.Number = 1

	fieldResultAlternatives protowire.Number = 1
	fieldResultIsFinal      protowire.Number = 2
	fieldResultStability    protowire.Number = 3

	fieldAlternativeTranscript protowire.Number = 1
	fieldAlternativeConfidence protowire.Number = 2
)

const encodingLinearPCM = 1

// Result is one decoded StreamingRecognitionResult, reduced to its best alternative.
type Result struct {
	Transcript string  `json:"transcript"`
	Final      bool    `json:"is_final"`
	Stability  float32 `json:"stability,omitempty"`
	Confidence float32 `json:"confidence,omitempty"`
}

// encodeConfigRequest builds the first StreamingRecognizeRequest of a stream.
func encodeConfigRequest(cfg StreamConfig) []byte {
	var rc []byte
	rc = appendVarintField(rc, fieldConfigEncoding, encodingLinearPCM)
	rc = appendVarintField(rc, fieldConfigSampleRate, uint64(cfg.SampleRate))
	rc = appendStringField(rc, fieldConfigLanguageCode, cfg.LanguageCode)
	rc = appendVarintField(rc, fieldConfigMaxAlts, 1)
	for _, phrase := range cfg.SpeechPhrases {
		text := strings.TrimSpace(phrase.Phrase)
		if text == "" {
			continue
		}
		sc := appendStringField(nil, fieldContextPhrases, text)
		if phrase.Boost != 0 {
			sc = protowire.AppendTag(sc, fieldContextBoost, protowire.Fixed32Type)
			sc = protowire.AppendFixed32(sc, math.Float32bits(phrase.Boost))
		}
		rc = appendBytesField(rc, fieldConfigContexts, sc)
	}
	rc = appendVarintField(rc, fieldConfigChannels, 1)
	if cfg.AutomaticPunctuation {
		rc = appendVarintField(rc, fieldConfigPunctuation, 1)
	}
	if model := strings.TrimSpace(cfg.Model); model != "" {
		rc = appendStringField(rc, fieldConfigModel, model)
	}

	sc := appendBytesField(nil, fieldStreamingConfigConfig, rc)
	if cfg.InterimResults {
		sc = appendVarintField(sc, fieldStreamingConfigInterim, 1)
	}
	return appendBytesField(nil, fieldRequestStreamingConfig, sc)
}

// encodeAudioRequest wraps one PCM chunk in a StreamingRecognizeRequest.
func encodeAudioRequest(chunk []byte) []byte {
	return appendBytesField(make([]byte, 0, len(chunk)+8), fieldRequestAudioContent, chunk)
}

// decodeResponse extracts results from a StreamingRecognizeResponse.
// Results without alternatives are dropped.
func decodeResponse(b []byte) ([]Result, error) {
	var results []Result
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		if num != fieldResponseResults || typ != protowire.BytesType {
			return nil
		}
		result, ok, err := decodeResult(v)
		if err != nil {
			return fmt.Errorf("decode result: %w", err)
		}
		if ok {
			results = append(results, result)
		}
		return nil
	})
	return results, err
}

func decodeResult(b []byte) (Result, bool, error) {
	var (
		result Result
		found  bool
	)
	err := walkFields(b, func(num protowire.Number, typ protowire.Type, v []byte) error {
		switch {
		case num == fieldResultAlternatives && typ == protowire.BytesType:
			if found {
				return nil
			}
			found = true
			return walkFields(v, func(num protowire.Number, typ protowire.Type, v []byte) error {
				switch {
				case num == fieldAlternativeTranscript && typ == protowire.BytesType:
					result.Transcript = string(v)
				case num == fieldAlternativeConfidence && typ == protowire.Fixed32Type:
					result.Confidence = float32FromWire(v)
				}
				return nil
			})
		case num == fieldResultIsFinal && typ == protowire.VarintType:
			n, _ := protowire.ConsumeVarint(v)
			result.Final = n != 0
		case num == fieldResultStability && typ == protowire.Fixed32Type:
			result.Stability = float32FromWire(v)
		}
		return nil
	})
	return result, found, err
}

// walkFields visits each top-level field in b. For bytes fields v is the payload;
// for scalar fields v is the raw encoded value.
func walkFields(b []byte, visit func(num protowire.Number, typ protowire.Type, v []byte) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]

		var value []byte
		if typ == protowire.BytesType {
			payload, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return protowire.ParseError(m)
			}
			value, n = payload, m
		} else {
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return protowire.ParseError(n)
			}
			value = b[:n]
		}
		if err := visit(num, typ, value); err != nil {
			return err
		}
		b = b[n:]
	}
	return nil
}

func float32FromWire(v []byte) float32 {
	bits, n := protowire.ConsumeFixed32(v)
	if n < 0 {
		return 0
	}
	return math.Float32frombits(bits)
}

func appendVarintField(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendStringField(b []byte, num protowire.Number, v string) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

func appendBytesField(b []byte, num protowire.Number, v []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

// rawCodec passes pre-encoded protobuf frames through gRPC untouched.
type rawCodec struct{}

func (rawCodec) Marshal(v any) ([]byte, error) {
	switch msg := v.(type) {
	case []byte:
		return msg, nil
	case *[]byte:
		return *msg, nil
	default:
		return nil, fmt.Errorf("raw codec cannot marshal %T", v)
	}
}

func (rawCodec) Unmarshal(data []byte, v any) error {
	msg, ok := v.(*[]byte)
	if !ok {
		return fmt.Errorf("raw codec cannot unmarshal into %T", v)
	}
	*msg = append((*msg)[:0], data...)
	return nil
}

// Name keeps the standard content-subtype so servers treat frames as protobuf.
func (rawCodec) Name() string { return "proto" }

//go:build js && wasm
// +build js,wasm

package main

import (
	"errors"
	"fmt"
	"syscall/js"

	"github.com/himanishpuri/mast/pkg/mast/audio"
	"github.com/himanishpuri/mast/pkg/mast/embedding"
	"github.com/himanishpuri/mast/pkg/mast/similarity"
)

// Error codes returned to JavaScript
const (
	ErrorNone = iota
	ErrorInvalidArgs
	ErrorProcessing
	ErrorResampleFailed
	ErrorSilentInput
	ErrorIncomparable
)

var extractor *embedding.Extractor

// extractEmbedding turns audio samples into a similarity embedding.
// Args: audioArray, sampleRate, channels.
// Returns: {error: number, data: Float64Array | string}
func extractEmbedding(this js.Value, args []js.Value) any {
	if len(args) < 3 {
		return makeErrorResponse(ErrorInvalidArgs, "Expected 3 arguments: audioArray, sampleRate, channels")
	}

	audioDataJS := args[0]
	sampleRateJS := args[1]
	channelsJS := args[2]

	if audioDataJS.Type() != js.TypeObject {
		return makeErrorResponse(ErrorInvalidArgs, "audioArray must be an Array or Float64Array")
	}
	if sampleRateJS.Type() != js.TypeNumber {
		return makeErrorResponse(ErrorInvalidArgs, "sampleRate must be a number")
	}
	if channelsJS.Type() != js.TypeNumber {
		return makeErrorResponse(ErrorInvalidArgs, "channels must be a number")
	}

	sampleRate := sampleRateJS.Int()
	channels := channelsJS.Int()

	if sampleRate <= 0 {
		return makeErrorResponse(ErrorInvalidArgs, fmt.Sprintf("Invalid sample rate: %d", sampleRate))
	}
	if channels < 1 || channels > 2 {
		return makeErrorResponse(ErrorInvalidArgs, fmt.Sprintf("Channels must be 1 (mono) or 2 (stereo), got: %d", channels))
	}

	samples, err := readFloats(audioDataJS)
	if err != nil {
		return makeErrorResponse(ErrorInvalidArgs, err.Error())
	}
	if len(samples) == 0 {
		return makeErrorResponse(ErrorInvalidArgs, "audioArray is empty")
	}
	if channels == 2 {
		samples = stereoToMono(samples)
	}

	target := extractor.Params().SampleRate
	if sampleRate != target {
		samples, err = audio.Resample(samples, sampleRate, target)
		if err != nil {
			return makeErrorResponse(ErrorResampleFailed, fmt.Sprintf("Failed to resample: %v", err))
		}
	}

	emb, err := extractor.ExtractSamples(samples)
	switch {
	case errors.Is(err, embedding.ErrSilentInput):
		return makeErrorResponse(ErrorSilentInput, "Audio is silent")
	case err != nil:
		return makeErrorResponse(ErrorProcessing, fmt.Sprintf("Failed to extract embedding: %v", err))
	}

	result := js.Global().Get("Object").New()
	result.Set("error", ErrorNone)
	result.Set("data", toFloat64Array(emb.Vector))
	return result
}

// score compares two embeddings.
// Args: a, b, metric ("cosine" or "euclidean", optional).
// Returns: {error: number, data: number | string}
func score(this js.Value, args []js.Value) any {
	if len(args) < 2 {
		return makeErrorResponse(ErrorInvalidArgs, "Expected at least 2 arguments: a, b[, metric]")
	}

	name := ""
	if len(args) > 2 && args[2].Type() == js.TypeString {
		name = args[2].String()
	}
	metric, err := similarity.ParseMetric(name)
	if err != nil {
		return makeErrorResponse(ErrorInvalidArgs, err.Error())
	}

	a, err := readFloats(args[0])
	if err != nil {
		return makeErrorResponse(ErrorInvalidArgs, "a: "+err.Error())
	}
	b, err := readFloats(args[1])
	if err != nil {
		return makeErrorResponse(ErrorInvalidArgs, "b: "+err.Error())
	}

	d, ok := similarity.Score(a, b, metric)
	if !ok {
		return makeErrorResponse(ErrorIncomparable, fmt.Sprintf("Embeddings are not comparable (%d vs %d values)", len(a), len(b)))
	}

	result := js.Global().Get("Object").New()
	result.Set("error", ErrorNone)
	result.Set("data", d)
	return result
}

func readFloats(v js.Value) ([]float64, error) {
	if v.Type() != js.TypeObject {
		return nil, errors.New("expected an Array or Float64Array")
	}
	length := v.Length()
	out := make([]float64, length)
	for i := 0; i < length; i++ {
		val := v.Index(i)
		if val.Type() != js.TypeNumber {
			return nil, fmt.Errorf("element %d is not a number", i)
		}
		out[i] = val.Float()
	}
	return out, nil
}

func toFloat64Array(vec []float64) js.Value {
	arr := js.Global().Get("Float64Array").New(len(vec))
	for i, x := range vec {
		arr.SetIndex(i, x)
	}
	return arr
}

func stereoToMono(stereo []float64) []float64 {
	if len(stereo)%2 != 0 {
		stereo = stereo[:len(stereo)-1]
	}

	mono := make([]float64, len(stereo)/2)
	for i := range mono {
		mono[i] = (stereo[i*2] + stereo[i*2+1]) / 2.0
	}
	return mono
}

func makeErrorResponse(errorCode int, message string) js.Value {
	result := js.Global().Get("Object").New()
	result.Set("error", errorCode)
	result.Set("data", message)
	return result
}

func main() {
	console := js.Global().Get("console")
	logf := func(method, format string, args ...any) {
		if !console.IsUndefined() {
			console.Call(method, fmt.Sprintf(format, args...))
		}
	}

	var err error
	extractor, err = embedding.NewExtractor(embedding.DefaultParams(), nil)
	if err != nil {
		logf("error", "MAST WASM init failed: %v", err)
		return
	}

	js.Global().Set("extractEmbedding", js.FuncOf(extractEmbedding))
	js.Global().Set("scoreEmbeddings", js.FuncOf(score))
	logf("log", "MAST WASM: extractEmbedding and scoreEmbeddings registered")

	window := js.Global().Get("window")
	if window.IsUndefined() {
		logf("error", "MAST WASM: window object is undefined")
	} else {
		event := js.Global().Get("CustomEvent").New("wasmReady", js.Global().Get("Object").New())
		window.Call("dispatchEvent", event)
	}

	select {}
}

// Package audio holds the sample-level data model of the listener: capture blocks,
// sealed chunks, the chunk assembler, the bounded chunk queue between assembly and
// inference, and the PCM helpers (WAV codec, sample conversion, resampling) the
// other stages share.
package audio

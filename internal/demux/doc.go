// Package demux turns a container byte stream into timestamped elementary
// frames.
//
// Every container parser implements [Demuxer], a two-phase contract: [Demuxer.Open]
// parses the header from a probe buffer and reports where frame data begins,
// then [Demuxer.ParseData] is fed the remaining bytes in arbitrary chunks and
// slices them into frames, retaining any incomplete tail between calls.
// Parsers are selected by content through a [Registry]. [WAV] is the
// reference implementation.
package demux

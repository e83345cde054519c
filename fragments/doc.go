// Package fragments provides low-level encoding and decoding helpers
// used to construct and parse DBus wire data.
//
// The provided Encoder and Decoder are low level tools: they track
// alignment and byte order, but have no notion of DBus types. Callers
// are responsible for calling the right sequence of methods to
// produce or consume a well-formed value.
package fragments

// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec holds scribe's CBOR configuration for on-disk state
// files. External interfaces (Jupyter REST, collaboration frames,
// kernel messages, CLI output) are JSON; files that only scribe reads
// back, such as execution watchdog markers, are CBOR.
//
// Encoding is Core Deterministic (RFC 8949 §4.2): identical values
// always produce identical bytes. Types carry `cbor` struct tags when
// they are never serialized as JSON.
package codec

import (
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encOptions := cbor.CoreDetEncOptions()
	encOptions.Time = cbor.TimeRFC3339Nano
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{
		// Marker files never use non-string keys; decode untyped maps
		// as map[string]any so they interoperate with JSON tooling.
		DefaultMapType: reflect.TypeOf(map[string]any(nil)),
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes v with Core Deterministic Encoding.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v. Unknown fields are ignored.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

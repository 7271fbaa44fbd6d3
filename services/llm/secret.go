// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llm

import (
	"fmt"
	"net/http"

	"github.com/awnumar/memguard"
)

// sealKey moves an API key into an encrypted memguard enclave.
func sealKey(key string) *memguard.Enclave {
	return memguard.NewEnclave([]byte(key))
}

// withKey opens the enclave for the duration of fn. The plaintext buffer
// is destroyed when fn returns.
func withKey(enclave *memguard.Enclave, fn func(key string)) error {
	buf, err := enclave.Open()
	if err != nil {
		return fmt.Errorf("open api key enclave: %w", err)
	}
	defer buf.Destroy()
	fn(buf.String())
	return nil
}

// keyTransport injects the API key header on every outgoing request, so
// the key is only decrypted while a request is being sent.
type keyTransport struct {
	base    http.RoundTripper
	enclave *memguard.Enclave
	header  string
	prefix  string
}

func (t *keyTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	err := withKey(t.enclave, func(key string) {
		clone.Header.Set(t.header, t.prefix+key)
	})
	if err != nil {
		return nil, err
	}
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(clone)
}
